package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/liveview"
	"github.com/fjod/storefront/internal/logger"
	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

// Live streams change events for one collection as server-sent events. Carts and orders
// are always narrowed to the caller; admins may watch another user or everybody.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	collection, err := domain.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	caller := identity(r)
	filter := liveview.Filter{EntityID: r.URL.Query().Get("entityId")}
	if collection != domain.CollectionProducts {
		filter.UserID = caller.UserID
		if caller.IsAdmin() {
			filter.UserID = r.URL.Query().Get("userId")
		}
	}

	ctx := r.Context()
	sub, err := h.svc.Live.Subscribe(ctx, collection, filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("response does not support streaming")
		return
	}

	entry := logger.FromContext(ctx).WithFields(log.Fields{
		"collection": collection,
		"user_id":    caller.UserID,
	})
	entry.Debug("live view subscribed")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			entry.Debug("live view client gone")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					entry.WithError(err).Warn("live view subscription ended")
					fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
					_ = rc.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				entry.WithError(err).Warn("failed to encode change event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.EntityID, ev.Kind, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
