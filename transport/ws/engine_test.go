package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miekgdns "github.com/miekg/dns"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/transport/conn"
	"github.com/openbtps/btps-go/transport/ws"
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

var upgrader = websocket.Upgrader{}

// echoRelay upgrades every connection and writes one ServerResponse frame
// back for each frame it reads.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, _, err := c.ReadMessage()
			if err != nil {
				return
			}
			resp := wire.ServerResponse{
				Version:  wire.ProtocolVersion,
				ID:       "resp-1",
				IssuedAt: time.Now().UTC().Format(time.RFC3339),
				Type:     wire.ResponseOK,
				Status:   wire.ResponseStatus{OK: true, Code: 200},
			}
			b, _ := json.Marshal(resp)
			if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}))
}

func newTestEngine(t *testing.T, hostAddr string) *ws.Engine {
	t.Helper()
	res := resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{addr: "btps://" + hostAddr})
	e := ws.New(conn.DefaultConfig(), res)
	e.SetDialer(func(ctx context.Context, host string) (*websocket.Conn, error) {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+host+ws.Path, nil)
		return c, err
	})
	return e
}

func TestConnectSendAndReceive(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()
	hostAddr := strings.TrimPrefix(srv.URL, "http://")

	e := newTestEngine(t, hostAddr)
	id := wire.MustParseIdentity("alice$example.com")

	connected := make(chan struct{}, 1)
	msgs := make(chan *wire.ServerResponse, 1)
	err := e.Connect(context.Background(), id, conn.Listeners{
		OnConnected: func() { connected <- struct{}{} },
		OnMessage:   func(r *wire.ServerResponse) { msgs <- r },
	})
	require.NoError(t, err)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected event")
	}
	require.Equal(t, conn.StateConnected, e.State())

	require.NoError(t, e.SendArtifact(map[string]string{"hello": "world"}))

	select {
	case resp := <-msgs:
		require.True(t, resp.Status.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}

	require.NoError(t, e.End())
	require.NoError(t, e.Destroy())
}

func TestSendArtifactBeforeConnectFails(t *testing.T) {
	res := resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{addr: "btps://127.0.0.1:0"})
	e := ws.New(conn.DefaultConfig(), res)
	err := e.SendArtifact(map[string]string{"hello": "world"})
	require.Error(t, err)
}

func TestDestroyRejectsFurtherCalls(t *testing.T) {
	res := resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{addr: "btps://127.0.0.1:0"})
	e := ws.New(conn.DefaultConfig(), res)
	require.NoError(t, e.Destroy())

	id := wire.MustParseIdentity("alice$example.com")
	err := e.Connect(context.Background(), id, conn.Listeners{})
	require.Error(t, err)
}
