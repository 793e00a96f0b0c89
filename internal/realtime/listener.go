package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
)

// NotifyChannel is the Postgres channel fed by the appraisals status trigger.
const NotifyChannel = "appraisal_status"

// Listener forwards Postgres notifications on NotifyChannel to a Hub.
type Listener struct {
	pool    *pgxpool.Pool
	hub     *Hub
	log     *logger.Logger
	backoff time.Duration
}

// NewListener creates a Listener.
func NewListener(pool *pgxpool.Pool, hub *Hub, log *logger.Logger) *Listener {
	return &Listener{
		pool:    pool,
		hub:     hub,
		log:     log.WithComponent("realtime.listener"),
		backoff: 2 * time.Second,
	}
}

// Run listens until ctx is cancelled, reconnecting after failures.
func (l *Listener) Run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}

		l.log.Warn("Notification listener stopped, retrying", map[string]interface{}{
			"error":   fmt.Sprint(err),
			"backoff": l.backoff.String(),
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	// a LISTENing connection must not go back to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	l.log.Info("Listening for status notifications", map[string]interface{}{
		"channel": NotifyChannel,
	})

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		ev, err := ParseNotification(n.Payload)
		if err != nil {
			l.log.Warn("Ignoring malformed notification", map[string]interface{}{
				"payload": n.Payload,
				"error":   err.Error(),
			})
			continue
		}
		l.hub.Publish(ev)
	}
}

// ParseNotification decodes a trigger payload of the form {"id":..., "status":...}.
func ParseNotification(payload string) (models.StatusEvent, error) {
	var ev models.StatusEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, err
	}
	if ev.ID == "" || !ev.Status.Valid() {
		return ev, fmt.Errorf("unexpected notification payload %q", payload)
	}
	return ev, nil
}
