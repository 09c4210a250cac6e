// Package wsobserver implements notebook.Observer over a websocket
// connection: an outbound queue drained by a writer goroutine, and a
// reader loop that decodes client requests and dispatches them into the
// reactor, grounded on the teacher's own WebSocketConnect handler.
package wsobserver

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"twinsong/internal/notebook"
)

// outboundBuffer bounds how many not-yet-written messages this
// connection will hold before Send starts dropping them. A slow client
// falling behind the reactor must never stall notebook-wide dispatch,
// which is exactly why AppState.emit never blocks on an observer.
const outboundBuffer = 256

// Session is one browser connection. It is the Observer of every
// notebook this connection created or loaded; the Dispatch passed to Run
// makes the reactor calls that attach it.
type Session struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	log  zerolog.Logger
}

// New wraps conn in a Session. Call Run to start its read/write loops;
// Run blocks until the connection closes.
func New(conn *websocket.Conn, log zerolog.Logger) *Session {
	return &Session{
		conn: conn,
		out:  make(chan []byte, outboundBuffer),
		done: make(chan struct{}),
		log:  log.With().Str("component", "wsobserver").Logger(),
	}
}

// Send implements notebook.Observer. It never blocks: if the outbound
// queue is full the message is dropped and logged, since a notebook's
// single observer falling behind must not back-pressure the reactor.
func (s *Session) Send(message []byte) {
	select {
	case s.out <- message:
	case <-s.done:
	default:
		s.log.Warn().Msg("dropping outbound message; client is not draining fast enough")
	}
}

// ClientMessage is the envelope every inbound frame is decoded into
// before being dispatched on Type. Dispatch reads the per-type payload
// fields; unused fields are simply left at their zero value.
type ClientMessage struct {
	Type            string              `json:"type"`
	Path            string              `json:"path"`
	Filename        string              `json:"filename"`
	NotebookID      notebook.NotebookID `json:"notebook_id"`
	RunID           string              `json:"run_id"`
	CellID          string              `json:"cell_id"`
	EditorCellID    string              `json:"editor_cell_id"`
	Title           string              `json:"title"`
	EditorRoot      json.RawMessage     `json:"editor_root"`
	EditorNode      json.RawMessage     `json:"editor_node"`
	EditorOpenNodes []string            `json:"editor_open_nodes"`
}

// Dispatch is implemented by the reactor; kept as an interface here so
// wsobserver never imports the reactor package directly, matching the
// kernel package's own Callbacks seam.
type Dispatch interface {
	Handle(session *Session, msg ClientMessage)
}

// Run starts the writer goroutine and blocks in the reader loop until
// the connection closes, at which point both loops exit and conn is
// closed.
func (s *Session) Run(dispatch Dispatch) {
	defer s.conn.Close()
	defer close(s.done)

	go s.writeLoop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode client message; ignoring")
			continue
		}
		dispatch.Handle(s, msg)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.out:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
