package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/panelbridge/panelbridge-go/internal/config"
	"github.com/panelbridge/panelbridge-go/internal/observability"
	"github.com/panelbridge/panelbridge-go/internal/panel"
	"github.com/panelbridge/panelbridge-go/internal/session"
	"github.com/panelbridge/panelbridge-go/internal/storage"
)

// deleteTimeout bounds the detached delete that fires after the removal
// grace period.
const deleteTimeout = 10 * time.Second

// Updater is the reconciliation loop. Every interval it walks all tenants
// with a status target and brings their published artifacts in line with
// what the panel reports. Sweeps never overlap; a slow sweep delays the
// next tick instead of stacking.
type Updater struct {
	store     *storage.BoltStore
	sessions  *session.Manager
	publisher Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics

	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	sweepMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewUpdater wires the loop. Metrics may be nil.
func NewUpdater(cfg *config.Config, store *storage.BoltStore, sessions *session.Manager, publisher Publisher, metrics *observability.Metrics, logger *zap.Logger) *Updater {
	return &Updater{
		store:     store,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		interval:  cfg.StatusInterval,
		grace:     cfg.RemovedGraceDelay,
		now:       time.Now,
	}
}

// Start launches the background loop. The first sweep runs immediately.
func (u *Updater) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	u.done = make(chan struct{})

	go func() {
		defer close(u.done)
		u.Sweep(ctx)
		ticker := time.NewTicker(u.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				u.Sweep(ctx)
			}
		}
	}()
	u.logger.Info("status updater started", zap.Duration("interval", u.interval))
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
// Pending grace-period deletes are abandoned; a stale farewell card is
// harmless.
func (u *Updater) Stop() {
	if u.cancel == nil {
		return
	}
	u.cancel()
	<-u.done
	u.logger.Info("status updater stopped")
}

// Sweep reconciles every tenant once. One tenant failing never blocks the
// others; the first error is reported for metrics and logging.
func (u *Updater) Sweep(ctx context.Context) {
	u.sweepMu.Lock()
	defer u.sweepMu.Unlock()

	start := u.now()
	var firstErr error
	totalPins := 0

	tenants, err := u.store.ListTenants()
	if err != nil {
		u.logger.Error("sweep failed to list tenants", zap.Error(err))
		u.metrics.ObserveSweep(u.now().Sub(start), err)
		return
	}

	for _, tenant := range tenants {
		pins, err := u.sweepTenant(ctx, tenant)
		totalPins += pins
		if err != nil {
			u.logger.Warn("tenant sweep failed",
				zap.String("tenant", tenant.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	u.metrics.SetPinnedServers(totalPins)
	u.metrics.ObserveSweep(u.now().Sub(start), firstErr)
}

// UpdateTenant reconciles one tenant outside the regular cadence, for the
// command layer to call right after a pin or preference change.
func (u *Updater) UpdateTenant(ctx context.Context, tenantID string) error {
	tenant, err := u.store.GetTenant(tenantID)
	if err != nil {
		return err
	}
	u.sweepMu.Lock()
	defer u.sweepMu.Unlock()
	_, err = u.sweepTenant(ctx, tenant)
	return err
}

// sweepTenant reconciles one tenant's pins and returns how many remain.
func (u *Updater) sweepTenant(ctx context.Context, tenant *storage.TenantRecord) (int, error) {
	if tenant.StatusTarget == nil {
		return 0, nil
	}
	target := *tenant.StatusTarget

	pins, err := u.store.ListPinned(tenant.ID)
	if err != nil {
		return 0, err
	}
	if len(pins) == 0 {
		return 0, nil
	}

	remaining := 0
	var failures []error
	for _, pin := range pins {
		server, err := u.sessions.GetServer(ctx, tenant.ID, pin.ServerID)
		switch {
		case err == nil:
			remaining++
			if server.Name != pin.ServerName {
				if uerr := u.store.UpsertPinned(&storage.PinnedServerRecord{
					TenantID:   tenant.ID,
					ServerID:   pin.ServerID,
					ServerName: server.Name,
				}); uerr != nil {
					failures = append(failures, fmt.Errorf("pin %s: %w", pin.ServerID, uerr))
				}
			}
			artifact := BuildStatus(&server, tenant.FieldPrefs, u.now())
			if perr := u.publishOrUpdate(ctx, target, tenant.ID, pin, artifact); perr != nil {
				failures = append(failures, fmt.Errorf("pin %s: %w", pin.ServerID, perr))
			}

		case errors.Is(err, panel.ErrServerNotFound):
			// Authoritative: the server is gone from the panel.
			if rerr := u.handleRemoved(ctx, target, tenant.ID, pin); rerr != nil {
				failures = append(failures, fmt.Errorf("pin %s: %w", pin.ServerID, rerr))
				remaining++
			}

		default:
			// Transient: keep the pin, flip the card to unreachable.
			remaining++
			failures = append(failures, fmt.Errorf("pin %s: %w", pin.ServerID, err))
			artifact := BuildUnreachable(pin.ServerID, pin.ServerName, u.now())
			if perr := u.publishOrUpdate(ctx, target, tenant.ID, pin, artifact); perr != nil {
				failures = append(failures, fmt.Errorf("pin %s: %w", pin.ServerID, perr))
			}
		}
	}
	return remaining, errors.Join(failures...)
}

// publishOrUpdate edits the pin's existing message or, when there is none
// or its id has gone stale, publishes a fresh one and records the new id.
func (u *Updater) publishOrUpdate(ctx context.Context, target, tenantID string, pin *storage.PinnedServerRecord, a *Artifact) error {
	if pin.MessageID != nil {
		err := u.publisher.Update(ctx, target, *pin.MessageID, a)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrMessageNotFound) {
			return err
		}
		u.logger.Debug("status message vanished, publishing a fresh one",
			zap.String("tenant", tenantID), zap.String("server", pin.ServerID))
	}

	id, err := u.publisher.Publish(ctx, target, a)
	if err != nil {
		return err
	}
	pin.MessageID = &id
	return u.store.UpdatePinnedMessageID(tenantID, pin.ServerID, &id)
}

// handleRemoved unpins a server that vanished from the panel, flips its
// card to the farewell artifact and schedules the card's deletion after
// the grace delay. A farewell card whose message id has gone stale is
// never re-published.
func (u *Updater) handleRemoved(ctx context.Context, target, tenantID string, pin *storage.PinnedServerRecord) error {
	artifact := BuildRemoved(pin.ServerID, pin.ServerName, u.now())

	var messageID string
	if pin.MessageID != nil {
		switch err := u.publisher.Update(ctx, target, *pin.MessageID, artifact); {
		case err == nil:
			messageID = *pin.MessageID
		case errors.Is(err, ErrMessageNotFound):
			// Nothing left to say goodbye on.
		default:
			return err
		}
	} else {
		id, err := u.publisher.Publish(ctx, target, artifact)
		if err != nil {
			return err
		}
		messageID = id
	}

	if err := u.store.DeletePinned(tenantID, pin.ServerID); err != nil {
		return err
	}
	u.logger.Info("server removed from panel, unpinned",
		zap.String("tenant", tenantID), zap.String("server", pin.ServerID))

	if messageID != "" {
		time.AfterFunc(u.grace, func() {
			ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
			defer cancel()
			if err := u.publisher.Delete(ctx, target, messageID); err != nil {
				u.logger.Debug("failed to delete farewell card",
					zap.String("server", pin.ServerID), zap.Error(err))
			}
		})
	}
	return nil
}
