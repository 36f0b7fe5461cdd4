package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/metrics"
)

const wsIdHeader = "WS-ID"

const (
	readBuffSize = 2 << 10
	writeBuffSize
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readBuffSize,
	WriteBufferSize: writeBuffSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsSnapshotMessage struct {
	Type          string               `json:"type"`
	Postulaciones []domain.Postulacion `json:"postulaciones"`
	Loading       bool                 `json:"loading"`
	Error         string               `json:"error,omitempty"`
}

type wsClientMessage struct {
	Type string `json:"type"`
}

// handleWs streams list snapshots to the client for as long as the
// connection lives. The client may send {"type":"refresh"} to drive a
// one-shot refetch (pull-to-refresh).
func (s *server) handleWs(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	h := http.Header{}
	h.Add(wsIdHeader, uuid.NewString())
	conn, err := upgrader.Upgrade(w, r, h)
	if err != nil {
		s.logger.Error("error while upgrading connection", "error", err)
		return
	}
	defer conn.Close()

	view, release := s.hub.acquire(session)
	defer release()

	metrics.WsClients.Inc()
	defer metrics.WsClients.Dec()

	snapshots, cancel := view.Observe()
	defer cancel()

	// Single writer goroutine; the read loop below never writes.
	go func() {
		initial := wsSnapshotMessage{
			Type:          "snapshot",
			Postulaciones: view.Snapshot(),
			Loading:       view.Loading(),
			Error:         errMsg(view.Err()),
		}
		if err := conn.WriteJSON(initial); err != nil {
			s.logger.Error("failed to write ws msg", "error", err)
			return
		}
		for snap := range snapshots {
			msg := wsSnapshotMessage{
				Type:          "snapshot",
				Postulaciones: snap,
				Loading:       false,
				Error:         errMsg(view.Err()),
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Error("failed to write ws msg", "error", err)
				return
			}
		}
	}()

	for {
		msg := wsClientMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type == "refresh" {
			if err := view.Refresh(r.Context()); err != nil {
				s.logger.Error("ws refresh failed", "error", err, "userId", session.UserID)
			}
		}
	}
}
