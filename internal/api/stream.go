package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gyaneshwarpardhi/simgate/internal/engine"
	"github.com/gyaneshwarpardhi/simgate/internal/event"
	"github.com/gyaneshwarpardhi/simgate/internal/metrics"
)

const (
	streamPollInterval = 100 * time.Millisecond
	streamWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// streamMessage is one frame on the event stream.
type streamMessage struct {
	Type    string       `json:"type"` // "event", "gap" or "error"
	Event   *event.Event `json:"event,omitempty"`
	Cursor  uint64       `json:"cursor"`
	Dropped uint64       `json:"dropped,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// GET /v1/events/stream?after=&filter= — push new events over a websocket.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.Limit = 0

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("event stream upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := uuid.NewString()
	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()
	slog.Info("event stream opened", "subscriber", sub, "after", q.After, "filter", q.Filter.String())

	// The client never sends anything we use; reading only detects close.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(m streamMessage) error {
		if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
			return err
		}
		return conn.WriteJSON(m)
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	for {
		page, err := h.eng.Events(ctx, q)
		switch {
		case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrTimeout):
			// Busy; try again next poll.
		case err != nil:
			if ctx.Err() == nil {
				_ = send(streamMessage{Type: "error", Cursor: q.After, Error: err.Error()})
			}
			slog.Info("event stream closed", "subscriber", sub, "err", err)
			return
		default:
			if page.Gap {
				if err := send(streamMessage{Type: "gap", Cursor: q.After, Dropped: page.Dropped}); err != nil {
					slog.Info("event stream closed", "subscriber", sub, "err", err)
					return
				}
			}
			for i := range page.Events {
				ev := page.Events[i]
				if err := send(streamMessage{Type: "event", Event: &ev, Cursor: ev.Seq}); err != nil {
					slog.Info("event stream closed", "subscriber", sub, "err", err)
					return
				}
			}
			q.After = page.Cursor
		}

		select {
		case <-ctx.Done():
			slog.Info("event stream closed", "subscriber", sub)
			return
		case <-ticker.C:
		}
	}
}
