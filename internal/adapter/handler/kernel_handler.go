// Package handler is the thin HTTP/WebSocket front door: it decodes
// requests, calls into internal/reactor, and otherwise contains no
// domain logic of its own.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gorilla/websocket"

	"twinsong/internal/handshake"
	"twinsong/internal/httpapi"
	"twinsong/internal/notebook"
	"twinsong/internal/reactor"
	"twinsong/internal/wsobserver"
)

// KernelHandler upgrades websocket connections into reactor-attached
// observer sessions and serves the small amount of plain HTTP the
// client needs (health, a snapshot kernel list).
type KernelHandler struct {
	state     *reactor.AppState
	handshake *handshake.Manager
	upgrader  websocket.Upgrader
}

// NewKernelHandler constructs a KernelHandler. handshake may be nil, in
// which case the handshake token check is skipped entirely (useful for
// local development).
func NewKernelHandler(state *reactor.AppState, hs *handshake.Manager) *KernelHandler {
	return &KernelHandler{
		state:     state,
		handshake: hs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Health reports the process is up.
func (h *KernelHandler) Health(c *gin.Context) {
	httpapi.Success(c, gin.H{"status": "ok"})
}

// ListKernels returns a snapshot of every live kernel without requiring
// a websocket round trip, for operator tooling.
func (h *KernelHandler) ListKernels(c *gin.Context) {
	ch := make(chan struct{})
	observer := directObserver{c: c, done: ch}
	h.state.KernelList(observer)
	<-ch
}

// directObserver adapts notebook.Observer to a single synchronous HTTP
// response, for handlers that don't need a persistent connection.
type directObserver struct {
	c    *gin.Context
	done chan struct{}
}

func (o directObserver) Send(message []byte) {
	o.c.Data(http.StatusOK, "application/json", message)
	close(o.done)
}

// WebSocketConnect upgrades the request and runs the session until the
// client disconnects. If a handshake manager is configured, the first
// query parameter "token" must validate before the upgrade proceeds.
func (h *KernelHandler) WebSocketConnect(c *gin.Context) {
	if h.handshake != nil {
		token := c.Query("token")
		if err := h.handshake.Validate(token); err != nil {
			httpapi.Unauthorized(c, "invalid or missing handshake token")
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade to websocket")
		return
	}

	sessionLog := log.With().Str("session_id", uuid.New().String()).Logger()
	session := wsobserver.New(conn, sessionLog)
	session.Run(dispatch{state: h.state, log: sessionLog})
}

// dispatch implements wsobserver.Dispatch by translating each decoded
// ClientMessage into the matching reactor call.
type dispatch struct {
	state *reactor.AppState
	log   zerolog.Logger
}

func (d dispatch) Handle(session *wsobserver.Session, msg wsobserver.ClientMessage) {
	switch msg.Type {
	case "new_notebook":
		d.state.NewNotebook(msg.Filename, session)

	case "load_notebook":
		d.state.LoadNotebook(msg.Path, session)

	case "query_dir":
		d.state.QueryDir(session)

	case "start_kernel":
		if _, err := d.state.StartKernel(msg.NotebookID, msg.Title); err != nil {
			d.log.Warn().Err(err).Msg("start_kernel failed")
		}

	case "run_code":
		d.handleRunCode(msg)

	case "save_notebook":
		d.handleSaveNotebook(msg)

	case "close_run":
		runID, err := uuid.Parse(msg.RunID)
		if err != nil {
			d.log.Warn().Err(err).Msg("close_run: malformed run_id")
			return
		}
		if err := d.state.CloseRun(msg.NotebookID, runID); err != nil {
			d.log.Warn().Err(err).Msg("close_run failed")
		}

	case "kernel_list":
		d.state.KernelList(session)

	case "save_state":
		d.handleSaveState(msg)

	case "load_state":
		d.handleLoadState(msg)

	default:
		d.log.Warn().Str("type", msg.Type).Msg("unrecognized client message type")
	}
}

func (d dispatch) handleRunCode(msg wsobserver.ClientMessage) {
	runID, err := uuid.Parse(msg.RunID)
	if err != nil {
		d.log.Warn().Err(err).Msg("run_code: malformed run_id")
		return
	}
	editorCellID, err := uuid.Parse(msg.EditorCellID)
	if err != nil {
		d.log.Warn().Err(err).Msg("run_code: malformed editor_cell_id")
		return
	}
	snapshot, err := notebook.ParseEditorNode(msg.EditorNode)
	if err != nil {
		d.log.Warn().Err(err).Msg("run_code: malformed editor_node")
		return
	}
	cellOutputID := uuid.New()
	if err := d.state.RunCode(msg.NotebookID, runID, cellOutputID, editorCellID, snapshot); err != nil {
		d.log.Warn().Err(err).Msg("run_code failed")
	}
}

func (d dispatch) handleSaveNotebook(msg wsobserver.ClientMessage) {
	root, err := notebook.ParseEditorGroup(msg.EditorRoot)
	if err != nil {
		d.log.Warn().Err(err).Msg("save_notebook: malformed editor_root")
		return
	}
	d.state.SaveNotebook(msg.NotebookID, root)
}

func (d dispatch) handleSaveState(msg wsobserver.ClientMessage) {
	runID, err := uuid.Parse(msg.RunID)
	if err != nil {
		d.log.Warn().Err(err).Msg("save_state: malformed run_id")
		return
	}
	if err := d.state.SaveKernelState(msg.NotebookID, runID, msg.Path); err != nil {
		d.log.Warn().Err(err).Msg("save_state failed")
	}
}

func (d dispatch) handleLoadState(msg wsobserver.ClientMessage) {
	runID, err := uuid.Parse(msg.RunID)
	if err != nil {
		d.log.Warn().Err(err).Msg("load_state: malformed run_id")
		return
	}
	if err := d.state.LoadKernelState(msg.NotebookID, runID, msg.Path); err != nil {
		d.log.Warn().Err(err).Msg("load_state failed")
	}
}
