package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/core/api"
	"github.com/solatis/tripwire/internal/core/auth"
	"github.com/solatis/tripwire/internal/core/config"
	"github.com/solatis/tripwire/internal/core/db"
	"github.com/solatis/tripwire/internal/core/server"
	"github.com/solatis/tripwire/internal/definition"
	"github.com/solatis/tripwire/internal/engine"
	"github.com/solatis/tripwire/internal/executor"
	"github.com/solatis/tripwire/internal/monitor"
	"github.com/solatis/tripwire/internal/rules"
	"github.com/solatis/tripwire/internal/telemetry/metrics"
	"github.com/solatis/tripwire/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a loop definition until a constraint or an interrupt stops it",
	Long: `Loads the loop definition, wires the monitor, executor and optional
broadcaster, archive, metrics endpoint and control plane, then runs the loop.
The first SIGINT or SIGTERM interrupts the run; a second one cancels it.`,
	RunE: runLoop,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("definition", "d", "", "loop definition file (YAML)")
	runCmd.Flags().String("executor-url", "", "action executor endpoint")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().Bool("control", false, "enable the gRPC control plane")
	runCmd.Flags().Int("control-port", 50051, "control plane port")
	_ = runCmd.MarkFlagRequired("definition")
}

// applyRunFlags overrides config with run flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("executor-url") {
		cfg.Executor.URL, _ = flags.GetString("executor-url")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("control") {
		cfg.Control.Enabled, _ = flags.GetBool("control")
	}
	if flags.Changed("control-port") {
		cfg.Control.Port, _ = flags.GetInt("control-port")
	}
	return cfg.Validate()
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("definition")
	def, err := definition.Load(path)
	if err != nil {
		return err
	}
	if cfg.Executor.URL == "" {
		return fmt.Errorf("executor endpoint required (--executor-url or TW_EXECUTOR_URL)")
	}

	collector := metrics.NewCollector(prometheus.NewRegistry())
	opts := []engine.Option{
		engine.WithMetrics(collector),
		engine.WithLogger(logger),
		engine.WithParams(def.Params),
	}

	var (
		recOpts []auditlog.RecorderOption
		queries *db.Queries
	)
	if cfg.DB.URL != "" {
		database, err := db.Open(cfg.DB.URL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		if err := db.MigrateUp(database); err != nil {
			return fmt.Errorf("failed to migrate archive: %w", err)
		}
		if queries, err = db.LoadQueries(database); err != nil {
			return fmt.Errorf("failed to load queries: %w", err)
		}
		archive := db.NewArchive(queries)
		recOpts = append(recOpts, auditlog.WithSink(archive))
		opts = append(opts, engine.WithRunObserver(archive))
	}

	recorder := auditlog.NewRecorder(auditlog.NewRing(cfg.Engine.LogCapacity), logger, recOpts...)
	defer recorder.Close()
	opts = append(opts, engine.WithRecorder(recorder))

	mon := monitor.New(
		monitor.WithLogger(logger),
		monitor.WithWebhookTimeout(cfg.Webhook.Timeout),
		monitor.WithDialTimeout(cfg.Chain.DialTimeout),
		monitor.WithMatcher(rules.Matcher{ScalarOperators: cfg.Engine.ScalarOperators}),
	)
	defer mon.Close()

	if cfg.Signer.PublicKey != "" {
		opts = append(opts, engine.WithProvisioner(executor.StaticProvisioner{PublicKey: cfg.Signer.PublicKey}, cfg.Executor.CodeID))
	}

	if cfg.Broadcast.Broker != "" {
		client, err := executor.DialMQTT(executor.MQTTConfig{
			Broker:   cfg.Broadcast.Broker,
			ClientID: cfg.Broadcast.ClientID,
			Timeout:  cfg.Broadcast.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect broadcaster: %w", err)
		}
		broadcaster := executor.NewMQTTBroadcaster(client, cfg.Broadcast.Topic, cfg.Broadcast.Timeout)
		defer broadcaster.Close()
		opts = append(opts, engine.WithBroadcaster(broadcaster))
	}

	exec := executor.NewHTTPExecutor(cfg.Executor.URL, cfg.Executor.Timeout, executor.WithAPIKey(cfg.Executor.APIKey))
	eng := engine.New(mon, exec, opts...)
	if err := def.Apply(eng); err != nil {
		return fmt.Errorf("invalid definition %s: %w", path, err)
	}

	if cfg.Metrics.Addr != "" {
		ms, err := server.NewMetricsServer(cfg.Metrics.Addr, collector.Handler())
		if err != nil {
			return err
		}
		go func() {
			if err := ms.Serve(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer shutdown(logger, "metrics", ms.Shutdown)
		logger.Info("serving metrics", "addr", ms.Addr().String())
	}

	if cfg.Control.Enabled {
		grpcServer, err := newControlServer(cfg, eng, queries, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := grpcServer.Start(context.Background()); err != nil {
				logger.Error("control plane failed", "error", err)
			}
		}()
		defer shutdown(logger, "control", grpcServer.Shutdown)
		logger.Info("serving control plane", "addr", grpcServer.Addr().String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go interruptOnSignal(ctx, eng, cancel, logger)

	logger.Info("starting tripwire", "version", Version, "definition", path)
	err = eng.Start(ctx)
	st := eng.Status()
	logger.Info("loop stopped", "run_id", string(st.RunID), "outcome", string(st.Outcome),
		"cycles", st.CyclesExecuted, "actions", st.ActionsCompleted)
	return err
}

func newControlServer(cfg *config.Config, eng *engine.Engine, queries *db.Queries, logger *slog.Logger) (*server.GRPCServer, error) {
	if queries == nil {
		return nil, fmt.Errorf("control plane requires an archive database for API keys (--db-url)")
	}
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("no HMAC secrets configured (set TW_HMAC_SECRET environment variable)")
	}

	svc, err := api.NewControlService(eng, logger)
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", cfg.Control.Host, cfg.Control.Port)
	srv, err := server.NewGRPCServer(addr, svc, auth.NewAuthenticator(secrets, queries))
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return nil, err
	}
	return srv, nil
}

// interruptOnSignal interrupts the run on the first signal and cancels
// the run context on the second.
func interruptOnSignal(ctx context.Context, eng *engine.Engine, cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	interrupted := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			if interrupted {
				logger.Warn("second signal, cancelling", "signal", sig.String())
				cancel()
				return
			}
			interrupted = true
			logger.Info("interrupting run", "signal", sig.String())
			if err := eng.Interrupt(); err != nil && !errors.Is(err, types.ErrNotRunning) {
				logger.Warn("interrupt failed", "error", err)
			}
		}
	}
}

func shutdown(logger *slog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", "server", name, "error", err)
	}
}
