package cart

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/internal/events"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

const (
	streamBuffer      = 32
	heartbeatInterval = 25 * time.Second
)

// EventSource is the bus the stream subscribes to.
type EventSource interface {
	Subscribe(fn events.Handler) func()
}

// Counter reports the current cart count sent when a stream opens.
type Counter interface {
	Count() int
}

// CartEvents streams bus notifications as server-sent events named after the
// event ("cart:add", "cart:set", "cart:hydrate"). A fresh stream starts with a
// "cart:set" carrying the current count. Slow clients lose events rather than
// stalling the publisher; the next "cart:set" corrects them. The stream ends
// when the client goes away or closing is closed; http.Server.Shutdown does
// not cancel request contexts, so the daemon closes it on shutdown.
func CartEvents(source EventSource, counter Counter, closing <-chan struct{}, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if source == nil || counter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "event stream unavailable"))
			return
		}
		ctx := r.Context()
		rc := http.NewResponseController(w)

		queue := make(chan events.Event, streamBuffer)
		unsubscribe := source.Subscribe(func(_ context.Context, ev events.Event) {
			select {
			case queue <- ev:
			default:
				if logg != nil {
					logg.Warn(ctx, "event stream full; dropping event")
				}
			}
		})
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if err := writeEvent(w, rc, events.CountAbsolute{Count: counter.Count()}); err != nil {
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-closing:
				return
			case ev := <-queue:
				if err := writeEvent(w, rc, ev); err != nil {
					if logg != nil {
						logg.WarnErr(ctx, "event stream write failed", err)
					}
					return
				}
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev events.Event) error {
	name, payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return rc.Flush()
}
