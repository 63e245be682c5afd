package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/config"
	"github.com/paddockhq/paddock/pkg/lifecycle"
	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/notify"
	"github.com/paddockhq/paddock/pkg/permission"
	"github.com/paddockhq/paddock/pkg/provider"
	"github.com/paddockhq/paddock/pkg/reconciler"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/team"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paddock",
	Short: "Paddock - cloud server and app orchestration control plane",
	Long: `Paddock provisions cloud servers and the apps deployed on them,
drives long-running provider actions to completion through a polling
reconciler, and gates every operation behind a team-scoped permission
model.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Paddock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(teamCmd)
}

// runtime bundles the wired components. There is no global accessor:
// everything is constructed here and passed down explicitly.
type runtime struct {
	cfg        *config.Config
	store      storage.Store
	registry   *permission.Registry
	evaluator  *auth.Evaluator
	lifecycle  *lifecycle.Manager
	dispatcher *notify.Dispatcher
	reconciler *reconciler.Reconciler
	teams      *team.Manager
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry, err := permission.Open(ctx, filepath.Join(cfg.Storage.DataDir, "permissions.db"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open permission registry: %w", err)
	}

	evaluator := auth.NewEvaluator(store, registry, auth.NewStaticAdmins(cfg.Auth.AdminUsers))
	gateway := provider.NewHTTPGateway(cfg.Provider.Endpoint, cfg.Provider.CallTimeout.Std())
	lc := lifecycle.NewManager(store, gateway, cfg.Provider.CallTimeout.Std())
	dispatcher := notify.NewDispatcher(store, evaluator, cfg.Notify)
	recon := reconciler.NewReconciler(store, lc, dispatcher, cfg)

	return &runtime{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		evaluator:  evaluator,
		lifecycle:  lc,
		dispatcher: dispatcher,
		reconciler: recon,
		teams:      team.NewManager(store, registry),
	}, nil
}

func (r *runtime) close() {
	if err := r.registry.Close(); err != nil {
		log.Errorf("failed to close permission registry", err)
	}
	if err := r.store.Close(); err != nil {
		log.Errorf("failed to close store", err)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler with internal scheduling",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		rt.reconciler.Start()
		log.Info("reconciler started")

		if addr := rt.cfg.Metrics.ListenAddr; addr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(addr, mux); err != nil {
					log.Errorf("metrics server error", err)
				}
			}()
			log.WithComponent("metrics").Info().Str("addr", addr).Msg("metrics endpoint listening")
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down")
		rt.reconciler.Stop()
		return nil
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run exactly one reconciliation tick (cron entrypoint)",
	Long: `Runs every sweep once and exits. Intended to be driven by an
external scheduler such as cron; overlapping invocations are serialized
by the reconciler's run guard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		return rt.reconciler.RunTick(cmd.Context(), true)
	},
}
