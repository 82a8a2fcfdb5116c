package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SSE event types for the sync stream.
const (
	SSEEventBusy      = "busy"
	SSEEventIdle      = "idle"
	SSEEventHeartbeat = "heartbeat"
)

// transitionQueue buffers indicator transitions between the tracker's
// listener and the stream loop. Push never blocks.
type transitionQueue struct {
	mu     sync.Mutex
	items  []bool
	notify chan struct{}
}

func newTransitionQueue() *transitionQueue {
	return &transitionQueue{notify: make(chan struct{}, 1)}
}

func (q *transitionQueue) push(busy bool) {
	q.mu.Lock()
	q.items = append(q.items, busy)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *transitionQueue) drain() []bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// handleSyncStream handles GET /api/sync/stream for SSE events.
//
// The current indicator is sent on connect, then one busy or idle event per
// transition, with heartbeats in between.
func (h *Handler) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Subscribe before reading the current value so no transition falls
	// between the two.
	queue := newTransitionQueue()
	unsubscribe := h.status.OnChange(queue.push)
	defer unsubscribe()

	var eventID uint64
	send := func(busy bool) error {
		eventID++
		event := SSEEventIdle
		if busy {
			event = SSEEventBusy
		}
		return h.sendSSEEvent(w, flusher, eventID, event, SyncResponse{Busy: busy, InFlight: h.status.InFlight()})
	}

	if err := send(h.status.Busy()); err != nil {
		h.logger.Debug("Client disconnected during connect", "error", err)
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			eventID++
			if err := h.sendSSEEvent(w, flusher, eventID, SSEEventHeartbeat, map[string]any{}); err != nil {
				h.logger.Debug("Client disconnected during heartbeat", "error", err)
				return
			}

		case <-queue.notify:
			for _, busy := range queue.drain() {
				if err := send(busy); err != nil {
					h.logger.Debug("Client disconnected during event", "error", err)
					return
				}
			}
		}
	}
}

// sendSSEEvent writes one event. Returns an error if the write fails
// (e.g., client disconnected).
func (h *Handler) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, id uint64, eventType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("Failed to marshal SSE data", "error", err)
		return nil
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return fmt.Errorf("write event type: %w", err)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", dataBytes); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}

	flusher.Flush()
	return nil
}
