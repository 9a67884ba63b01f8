package conn

import "github.com/openbtps/btps-go/wire"

// EventKind distinguishes the four observable event shapes listeners
// receive, delivered in order, per spec §4.4.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventMessage   EventKind = "message"
	EventError     EventKind = "error"
	EventEnd       EventKind = "end"
)

// ErrorPayload is the `error` event body.
type ErrorPayload struct {
	Err          error
	WillRetry    bool
	RetriesLeft  int
	Attempt      int
}

// EndPayload is the `end` event body.
type EndPayload struct {
	WillRetry   bool
	RetriesLeft int
	Attempt     int
}

// Event is the single typed value delivered to a Listeners set.
type Event struct {
	Kind     EventKind
	Response *wire.ServerResponse
	Error    *ErrorPayload
	End      *EndPayload
}

// Listeners receives every event for one connect() call's lifetime. All
// fields are optional; a nil handler is simply skipped.
type Listeners struct {
	OnConnected func()
	OnMessage   func(*wire.ServerResponse)
	OnError     func(ErrorPayload)
	OnEnd       func(EndPayload)
}

func (l Listeners) dispatch(ev Event) {
	switch ev.Kind {
	case EventConnected:
		if l.OnConnected != nil {
			l.OnConnected()
		}
	case EventMessage:
		if l.OnMessage != nil {
			l.OnMessage(ev.Response)
		}
	case EventError:
		if l.OnError != nil {
			l.OnError(*ev.Error)
		}
	case EventEnd:
		if l.OnEnd != nil {
			l.OnEnd(*ev.End)
		}
	}
}
