package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/paddockhq/paddock/pkg/config"
	"github.com/paddockhq/paddock/pkg/lifecycle"
	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/notify"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// runGuardKey marks a tick in flight. The short TTL covers a crashed
// tick: the marker expires and the next tick proceeds.
const runGuardKey = "tick-running"

// sweep is one named maintenance pass in the tick pipeline.
type sweep struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Reconciler advances deferred provider actions and runs the periodic
// maintenance sweeps. Each tick is a short-lived, run-to-completion
// batch: servers are reconciled before apps (apps depend on parent
// server availability), then the independent sweeps run in a fixed
// order. Overlapping ticks are prevented by a TTL run guard.
type Reconciler struct {
	store      storage.Store
	lifecycle  *lifecycle.Manager
	dispatcher *notify.Dispatcher
	cfg        *config.Config

	guard  *gocache.Cache
	sweeps []sweep

	lastMu  sync.Mutex
	lastRun map[string]time.Time

	stopCh chan struct{}
}

// NewReconciler creates a reconciler.
func NewReconciler(store storage.Store, lc *lifecycle.Manager, dispatcher *notify.Dispatcher, cfg *config.Config) *Reconciler {
	r := &Reconciler{
		store:      store,
		lifecycle:  lc,
		dispatcher: dispatcher,
		cfg:        cfg,
		guard:      gocache.New(2*cfg.Sweeps.TickInterval.Std(), time.Minute),
		lastRun:    make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}

	// Ordered pipeline. Action sweeps and notification dispatch run
	// every tick; the slower sweeps honor their own intervals.
	r.sweeps = []sweep{
		{name: "server-actions", run: r.sweepServerActions},
		{name: "app-actions", run: r.sweepAppActions},
		{name: "app-expiration", interval: cfg.Sweeps.ExpirationInterval.Std(), run: r.sweepAppExpiration},
		{name: "stale-actions", interval: cfg.Sweeps.ExpirationInterval.Std(), run: r.sweepStaleActions},
		{name: "log-retention", interval: cfg.Sweeps.RetentionInterval.Std(), run: r.sweepLogRetention},
		{name: "temp-files", interval: cfg.Sweeps.TempFileInterval.Std(), run: r.sweepTempFiles},
		{name: "notifications", run: r.sweepNotifications},
	}
	return r
}

// Start begins the tick loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.cfg.Sweeps.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.RunTick(context.Background(), false); err != nil {
				log.WithComponent("reconciler").Error().Err(err).Msg("tick failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// RunTick executes one reconciliation tick. When force is true every
// sweep runs regardless of its interval (used by the one-shot cron
// entrypoint). A tick overlapping a still-running one is a no-op.
func (r *Reconciler) RunTick(ctx context.Context, force bool) error {
	if err := r.guard.Add(runGuardKey, true, gocache.DefaultExpiration); err != nil {
		metrics.TicksSkipped.Inc()
		log.WithComponent("reconciler").Debug().Msg("previous tick still running, skipping")
		return nil
	}
	defer r.guard.Delete(runGuardKey)

	metrics.TicksTotal.Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickDuration)

	for _, s := range r.sweeps {
		if !force && !r.due(s) {
			continue
		}
		sweepTimer := metrics.NewTimer()
		if err := s.run(ctx); err != nil {
			metrics.SweepErrors.WithLabelValues(s.name).Inc()
			log.WithSweep(s.name).Error().Err(err).Msg("sweep failed")
		}
		sweepTimer.ObserveDurationVec(metrics.SweepDuration, s.name)
		r.markRan(s.name)
	}
	return nil
}

// due reports whether a sweep's interval has elapsed since its last run.
// Sweeps without an interval run every tick.
func (r *Reconciler) due(s sweep) bool {
	if s.interval <= 0 {
		return true
	}
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	last, ok := r.lastRun[s.name]
	return !ok || time.Since(last) >= s.interval
}

func (r *Reconciler) markRan(name string) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	r.lastRun[name] = time.Now()
}

// sweepServerActions polls every server with an in-progress action.
func (r *Reconciler) sweepServerActions(ctx context.Context) error {
	servers, err := r.store.ListServers()
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}

	for _, server := range servers {
		if server.ActionStatus != types.ActionStatusInProgress {
			continue
		}
		action := server.Action
		outcome, err := r.lifecycle.PollServer(ctx, server.ID)
		if err != nil {
			log.WithServerID(server.ID).Error().Err(err).Msg("failed to poll server action")
			continue
		}
		if outcome == lifecycle.PollCompleted {
			message := fmt.Sprintf("Action %s completed on server %s", action, server.Name)
			if err := r.dispatcher.AddEntry(server.ID, "server_action", action, message); err != nil {
				log.WithServerID(server.ID).Error().Err(err).Msg("failed to add notify entry")
			}
		}
	}
	return nil
}

// sweepAppActions polls every app with an in-progress action. Runs after
// the server sweep; apps depend on parent server availability.
func (r *Reconciler) sweepAppActions(ctx context.Context) error {
	apps, err := r.store.ListApps()
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}

	for _, app := range apps {
		if app.ActionStatus != types.ActionStatusInProgress {
			continue
		}
		action := app.Action
		outcome, err := r.lifecycle.PollApp(ctx, app.ID)
		if err != nil {
			log.WithAppID(app.ID).Error().Err(err).Msg("failed to poll app action")
			continue
		}
		if outcome == lifecycle.PollCompleted {
			message := fmt.Sprintf("Action %s completed on app %s", action, app.Name)
			if err := r.dispatcher.AddEntry(app.ID, "app_action", action, message); err != nil {
				log.WithAppID(app.ID).Error().Err(err).Msg("failed to add notify entry")
			}
		}
	}
	return nil
}

// sweepAppExpiration marks apps whose expiry has passed. Marking is a
// check-then-set on ExpiredStatus: an already-expired app is never
// re-marked, so a second pass has no side effects.
func (r *Reconciler) sweepAppExpiration(ctx context.Context) error {
	apps, err := r.store.ListApps()
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}

	now := time.Now()
	for _, app := range apps {
		if app.ExpiresAt == nil || app.ExpiredStatus {
			continue
		}
		if app.ExpiresAt.After(now) {
			continue
		}
		app.ExpiredStatus = true
		if err := r.store.UpdateApp(app); err != nil {
			log.WithAppID(app.ID).Error().Err(err).Msg("failed to mark app expired")
			continue
		}
		metrics.AppsExpired.Inc()
		log.WithAppID(app.ID).Info().Time("expires_at", *app.ExpiresAt).Msg("app expired")

		message := fmt.Sprintf("App %s has expired", app.Name)
		if err := r.dispatcher.AddEntry(app.ID, "app_expired", app.Domain, message); err != nil {
			log.WithAppID(app.ID).Error().Err(err).Msg("failed to add notify entry")
		}
	}
	return nil
}

// sweepStaleActions declares long-stuck in-progress actions failed. The
// per-tick poll is unconditional and unbounded; this sweep is the only
// thing that ends a stuck action.
func (r *Reconciler) sweepStaleActions(ctx context.Context) error {
	window := r.cfg.Sweeps.StaleActionAfter.Std()
	if window <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-window)

	servers, err := r.store.ListServers()
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	for _, server := range servers {
		if server.ActionStatus != types.ActionStatusInProgress {
			continue
		}
		if server.ActionStartedAt.IsZero() || server.ActionStartedAt.After(cutoff) {
			continue
		}
		if err := r.lifecycle.MarkServerStale(server.ID); err != nil {
			log.WithServerID(server.ID).Error().Err(err).Msg("failed to mark stale action")
		}
	}

	apps, err := r.store.ListApps()
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}
	for _, app := range apps {
		if app.ActionStatus != types.ActionStatusInProgress {
			continue
		}
		if app.ActionStartedAt.IsZero() || app.ActionStartedAt.After(cutoff) {
			continue
		}
		if err := r.lifecycle.MarkAppStale(app.ID); err != nil {
			log.WithAppID(app.ID).Error().Err(err).Msg("failed to mark stale action")
		}
	}
	return nil
}

// retentionKinds are swept by log retention, in this order.
var retentionKinds = []types.LogKind{
	types.LogKindCommand,
	types.LogKindSSH,
	types.LogKindError,
	types.LogKindNotify,
	types.LogKindNotifySent,
}

// sweepLogRetention evicts the oldest entries of each kind once the
// configured limit is exceeded, deleting at most MaxDeletePerSweep per
// kind per pass.
func (r *Reconciler) sweepLogRetention(ctx context.Context) error {
	for _, kind := range retentionKinds {
		count, err := r.store.CountLogs(kind)
		if err != nil {
			return fmt.Errorf("count %s logs: %w", kind, err)
		}
		limit := r.cfg.LogLimit(string(kind))
		if count <= limit {
			continue
		}
		toDelete := count - limit
		if toDelete > r.cfg.Retention.MaxDeletePerSweep {
			toDelete = r.cfg.Retention.MaxDeletePerSweep
		}
		deleted, err := r.store.DeleteOldestLogs(kind, toDelete)
		if err != nil {
			return fmt.Errorf("evict %s logs: %w", kind, err)
		}
		metrics.LogsEvicted.WithLabelValues(string(kind)).Add(float64(deleted))
		log.WithSweep("log-retention").Debug().
			Str("kind", string(kind)).
			Int("deleted", deleted).
			Msg("evicted log entries")
	}
	return nil
}

// sweepTempFiles deletes scratch files older than the configured age.
func (r *Reconciler) sweepTempFiles(ctx context.Context) error {
	dir := r.cfg.Storage.ScratchDir
	if dir == "" {
		return nil
	}
	maxAge := r.cfg.Sweeps.TempFileMaxAge.Std()
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read scratch dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.WithSweep("temp-files").Warn().Err(err).Str("path", path).Msg("failed to remove temp file")
		}
	}
	return nil
}

// sweepNotifications hands off to the dispatcher.
func (r *Reconciler) sweepNotifications(ctx context.Context) error {
	return r.dispatcher.ScanAndDispatch(ctx)
}
