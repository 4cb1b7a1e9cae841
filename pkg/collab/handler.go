package collab

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/thesislab/collabd/pkg/wire"
)

// Handler exposes the collaborative endpoints over HTTP.
type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
}

func NewHandler(r *Registry) *Handler {
	return &Handler{
		registry: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Register attaches the routes to the router.
func (h *Handler) Register(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/documents/{document}/collab").HandlerFunc(h.ServeSocket)
	r.Methods(http.MethodGet).Path("/documents/{document}/state").HandlerFunc(h.ServeState)
	r.Methods(http.MethodDelete).Path("/documents/{document}/state").HandlerFunc(h.ServeDelete)
}

// ServeSocket upgrades the connection and runs its message loop until the
// peer goes away or sends something unusable. A bad frame closes only the
// offending connection; the rest of the document's connections are
// untouched.
func (h *Handler) ServeSocket(writer http.ResponseWriter, request *http.Request) {
	id, err := documentID(request)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	session := h.registry.GetOrCreate(request.Context(), id)

	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "document", id, "err", err)
		return
	}
	defer conn.Close()

	logger := slog.With("document", id, "conn", uuid.NewString())

	if err := session.Attach(conn); err != nil {
		logger.Error("failed to attach connection", "err", err)
		return
	}
	defer session.Detach(conn)
	logger.Info("connection attached", "clients", session.Clients())

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("connection closed", "err", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		label, payload, err := wire.Decode(raw)
		if err != nil {
			logger.Error("closing connection after malformed frame", "err", err)
			return
		}
		switch label {
		case wire.TypeUpdate:
			if err := session.ApplyUpdate(request.Context(), raw, payload, conn); err != nil {
				logger.Error("closing connection after unusable update", "err", err)
				return
			}
		case wire.TypeAwareness:
			session.Broadcast(raw, conn)
		default:
			// unrecognised labels are ignored for forward compatibility
		}
	}
}

// ServeState returns the current full encoded state of the document.
func (h *Handler) ServeState(writer http.ResponseWriter, request *http.Request) {
	id, err := documentID(request)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	session := h.registry.GetOrCreate(request.Context(), id)
	writer.Header().Set("Content-Type", "application/octet-stream")
	if _, err := writer.Write(session.Snapshot()); err != nil {
		slog.Error("failed to write state", "document", id, "err", err)
	}
}

// ServeDelete drops the live session and removes all persisted rows for the
// document. Wired to the CRUD layer's document-deletion workflow.
func (h *Handler) ServeDelete(writer http.ResponseWriter, request *http.Request) {
	id, err := documentID(request)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	// best effort: the live session is gone either way, and a failed row
	// delete only leaves orphaned state behind
	if err := h.registry.Drop(request.Context(), id); err != nil {
		slog.Error("failed to delete document state", "document", id, "err", err)
	}
	writer.WriteHeader(http.StatusNoContent)
}

func documentID(request *http.Request) (int64, error) {
	raw := mux.Vars(request)["document"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid document id %q", raw)
	}
	return id, nil
}
