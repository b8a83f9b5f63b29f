package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/challenge-engine/internal/models"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventFilter narrows a stream to one world and optionally one participant
type eventFilter struct {
	world       string
	participant string
}

func (f eventFilter) match(ev models.Event) bool {
	if f.world != "" && ev.World != f.world {
		return false
	}
	return f.participant == "" || ev.Participant == f.participant
}

// handleEventStream pushes bus events to a websocket client as JSON.
// Slow clients lose events rather than block the publisher.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	filter := eventFilter{
		world:       r.URL.Query().Get("world"),
		participant: r.URL.Query().Get("participant"),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	client := ClientFromContext(r.Context())
	slog.Info("event stream connected", "client", client.Name, "world", filter.world, "participant", filter.participant)

	ch := make(chan models.Event, streamBuffer)
	unsubscribe := s.engine.Bus().Subscribe(func(_ context.Context, ev models.Event) error {
		if !filter.match(ev) {
			return nil
		}
		select {
		case ch <- ev:
		default:
			slog.Warn("event stream lagging, dropping event", "client", client.Name, "type", ev.Type)
		}
		return nil
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the read loop only handles control frames and notices the close
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("event stream disconnected", "client", client.Name)
			return
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("failed to send event", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
