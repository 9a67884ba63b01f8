package conn_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	miekgdns "github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/transport/conn"
	"github.com/openbtps/btps-go/wire"
)

type fakeExchanger struct{ addr string }

func (f *fakeExchanger) ExchangeContext(ctx context.Context, m *miekgdns.Msg, addr string) (*miekgdns.Msg, time.Duration, error) {
	resp := new(miekgdns.Msg)
	resp.SetReply(m)
	resp.Rcode = miekgdns.RcodeSuccess
	resp.Answer = append(resp.Answer, &miekgdns.TXT{
		Hdr: miekgdns.RR_Header{Name: m.Question[0].Name, Rrtype: miekgdns.TypeTXT, Class: miekgdns.ClassINET, Ttl: 300},
		Txt: []string{"v=1.0.0;u=" + f.addr + ";s=btps1"},
	})
	return resp, time.Millisecond, nil
}

// serverEcho accepts one connection on the listener and writes a single
// btps_response line back for every line it reads.
func serverEcho(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		scanner := bufio.NewScanner(c)
		for scanner.Scan() {
			var req map[string]any
			_ = json.Unmarshal(scanner.Bytes(), &req)
			resp := wire.ServerResponse{
				Version:  wire.ProtocolVersion,
				ID:       "resp-1",
				IssuedAt: time.Now().UTC().Format(time.RFC3339),
				Type:     wire.ResponseOK,
				Status:   wire.ResponseStatus{OK: true, Code: 200},
			}
			b, _ := json.Marshal(resp)
			c.Write(append(b, '\n'))
		}
	}()
}

func newTestEngine(t *testing.T, addr string) *conn.Engine {
	t.Helper()
	res := resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{addr: addr})
	e := conn.New(conn.DefaultConfig(), res)
	e.SetDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
	return e
}

func TestConnectAndReceiveMessage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	serverEcho(t, ln)

	e := newTestEngine(t, "btps://"+ln.Addr().String())
	id := wire.MustParseIdentity("alice$example.com")

	connected := make(chan struct{}, 1)
	msgs := make(chan *wire.ServerResponse, 1)
	err = e.Connect(context.Background(), id, conn.Listeners{
		OnConnected: func() { connected <- struct{}{} },
		OnMessage:   func(r *wire.ServerResponse) { msgs <- r },
	})
	require.NoError(t, err)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected event")
	}

	artifact := &wire.TransporterArtifact{
		Version:  wire.ProtocolVersion,
		ID:       "art-1",
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
		From:     "alice$example.com",
		To:       "bob$example.org",
		Type:     wire.ArtifactDocument,
		Document: json.RawMessage(`{}`),
		Selector: "btps1",
	}
	require.NoError(t, e.SendArtifact(artifact))

	select {
	case resp := <-msgs:
		require.True(t, resp.Status.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}

	require.NoError(t, e.Destroy())
}

func TestConnectTwiceIsIdempotent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	serverEcho(t, ln)

	e := newTestEngine(t, "btps://"+ln.Addr().String())
	id := wire.MustParseIdentity("alice$example.com")

	connected := make(chan struct{}, 2)
	err = e.Connect(context.Background(), id, conn.Listeners{OnConnected: func() { connected <- struct{}{} }})
	require.NoError(t, err)
	<-connected

	err = e.Connect(context.Background(), id, conn.Listeners{OnConnected: func() { connected <- struct{}{} }})
	require.NoError(t, err)
	<-connected

	require.Equal(t, conn.StateConnected, e.State())
	require.NoError(t, e.Destroy())
}

func TestDestroyRejectsFurtherCalls(t *testing.T) {
	res := resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{addr: "btps://127.0.0.1:1"})
	e := conn.New(conn.DefaultConfig(), res)
	require.NoError(t, e.Destroy())

	err := e.Connect(context.Background(), wire.MustParseIdentity("alice$example.com"), conn.Listeners{})
	require.Error(t, err)
}

// serverSilent accepts one connection and never writes to it, so the
// inactivity-timeout watcher is the only thing that ever ends the stream.
func serverSilent(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		<-t.Context().Done()
		c.Close()
	}()
}

func TestInactivityTimeoutRaisesConnectionTimeoutKind(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	serverSilent(t, ln)

	res := resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{addr: "btps://" + ln.Addr().String()})
	cfg := conn.DefaultConfig()
	cfg.ConnectionTimeout = 150 * time.Millisecond
	cfg.MaxRetries = 1
	e := conn.New(cfg, res)
	e.SetDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})

	errs := make(chan conn.ErrorPayload, 1)
	err = e.Connect(context.Background(), wire.MustParseIdentity("alice$example.com"), conn.Listeners{
		OnError: func(ev conn.ErrorPayload) {
			select {
			case errs <- ev:
			default:
			}
		},
	})
	require.NoError(t, err)

	select {
	case ev := <-errs:
		require.True(t, btpserr.Is(ev.Err, btpserr.ConnectionTimeout))
		require.False(t, btpserr.Is(ev.Err, btpserr.ConnectionEndedEarly))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inactivity timeout error")
	}

	require.NoError(t, e.Destroy())
}

func TestNonRetryableFailureEndsInFailedState(t *testing.T) {
	res := resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{addr: "not a url :// bad"})
	e := conn.New(conn.DefaultConfig(), res)
	e.SetDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	})

	errs := make(chan struct{}, 1)
	err := e.Connect(context.Background(), wire.MustParseIdentity("alice$example.com"), conn.Listeners{
		OnError: func(ev conn.ErrorPayload) {
			if !ev.WillRetry {
				select {
				case errs <- struct{}{}:
				default:
				}
			}
		},
	})
	require.NoError(t, err)

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for non-retryable error")
	}
	require.Eventually(t, func() bool { return e.State() == conn.StateFailed }, time.Second, 10*time.Millisecond)
}
