package api

import (
	"fmt"
	"net/http"
	"time"

	"prop-ledger/models"
	"prop-ledger/observability"
)

const keepAliveInterval = 15 * time.Second

// HandleLedgerEvents streams every published snapshot as server-sent events.
// The current snapshot is sent first. A slow client only sees the latest
// snapshot; intermediate ones are dropped.
func (h *Handler) HandleLedgerEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	updates := make(chan models.LedgerSnapshot, 1)
	unsubscribe := h.app.Subscribe(func(snap models.LedgerSnapshot) {
		select {
		case updates <- snap:
		default:
			// replace the pending snapshot with the newer one
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, h.app.Ledger()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if err := writeEvent(w, snap); err != nil {
				observability.Debug("ledger event stream closed", "error", err)
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, snap models.LedgerSnapshot) error {
	data, err := codec.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: ledger\ndata: %s\n\n", data)
	return err
}
