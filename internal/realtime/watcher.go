package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
)

// ErrNotFound is returned by Watch when the appraisal does not exist.
var ErrNotFound = errors.New("appraisal not found")

// StatusStore is the persistence the watcher polls.
type StatusStore interface {
	GetStatus(ctx context.Context, id string) (*models.StatusSnapshot, error)
	MarkTimedOut(ctx context.Context, id string) (bool, error)
	ExpireOverdue(ctx context.Context) ([]string, error)
}

// Watcher follows one appraisal until it reaches a terminal status, using
// Hub events when available and polling the store otherwise. A pending
// record past its deadline is moved to timed_out.
type Watcher struct {
	store StatusStore
	hub   *Hub
	poll  time.Duration
	log   *logger.Logger
	now   func() time.Time
}

// NewWatcher creates a Watcher polling every poll interval.
func NewWatcher(store StatusStore, hub *Hub, poll time.Duration, log *logger.Logger) *Watcher {
	return &Watcher{
		store: store,
		hub:   hub,
		poll:  poll,
		log:   log.WithComponent("realtime.watcher"),
		now:   time.Now,
	}
}

// Watch calls fn for the current status and for every later distinct status,
// returning nil after a terminal one. It returns early with fn's error, with
// ErrNotFound, or with ctx's error.
func (w *Watcher) Watch(ctx context.Context, id string, fn func(models.StatusEvent) error) error {
	sub := w.hub.Subscribe(id)
	defer sub.Close()

	var last models.AppraisalStatus
	deliver := func(status models.AppraisalStatus) (bool, error) {
		if status != last {
			last = status
			if err := fn(models.StatusEvent{ID: id, Status: status}); err != nil {
				return true, err
			}
		}
		return status.Terminal(), nil
	}

	check := func() (bool, error) {
		status, err := w.current(ctx, id)
		if err != nil {
			return true, err
		}
		return deliver(status)
	}

	if done, err := check(); done || err != nil {
		return err
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if done, err := deliver(ev.Status); done || err != nil {
				return err
			}
		case <-ticker.C:
			if done, err := check(); done || err != nil {
				return err
			}
		}
	}
}

// current reads the status, expiring the record first when it is overdue.
func (w *Watcher) current(ctx context.Context, id string) (models.AppraisalStatus, error) {
	snap, err := w.store.GetStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", ErrNotFound
	}
	if !snap.Overdue(w.now()) {
		return snap.Status, nil
	}

	expired, err := w.store.MarkTimedOut(ctx, id)
	if err != nil {
		return "", err
	}
	if expired {
		w.log.Warn("Appraisal timed out while pending", map[string]interface{}{
			"appraisal_id": id,
		})
		w.hub.Publish(models.StatusEvent{ID: id, Status: models.StatusTimedOut})
		return models.StatusTimedOut, nil
	}

	// a result landed between the read and the update
	snap, err = w.store.GetStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", ErrNotFound
	}
	return snap.Status, nil
}

// Sweep expires every overdue pending record once and publishes the changes.
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	ids, err := w.store.ExpireOverdue(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		w.hub.Publish(models.StatusEvent{ID: id, Status: models.StatusTimedOut})
	}
	if len(ids) > 0 {
		w.log.Warn("Expired overdue appraisals", map[string]interface{}{
			"count": len(ids),
		})
	}
	return len(ids), nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled, so pending
// records nobody is watching still reach timed_out.
func (w *Watcher) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("Failed to expire overdue appraisals", err, nil)
			}
		}
	}
}
