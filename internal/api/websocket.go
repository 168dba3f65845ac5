package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type snapshot struct {
	Alerts []*core.Alert `json:"alerts"`
	Groups []*core.Group `json:"groups"`
	At     time.Time     `json:"at"`
}

// snapshotStreamHandler upgrades to a websocket connection and pushes a
// full alert/group snapshot on a fixed interval, for dashboards that
// want push updates instead of polling the REST surface.
func snapshotStreamHandler(s *store.Store, g GroupLister, interval time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			snap := snapshot{Alerts: s.Snapshot(), Groups: g.List(), At: time.Now()}
			body, err := json.Marshal(snap)
			if err != nil {
				logger.Error("failed to marshal snapshot", "error", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}

			select {
			case <-ticker.C:
			case <-r.Context().Done():
				return
			}
		}
	}
}
