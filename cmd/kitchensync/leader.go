package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"kitchensync/internal/leader"
	"kitchensync/internal/platform/config"
	"kitchensync/internal/platform/logger"
	"kitchensync/internal/platform/metrics"
	"kitchensync/internal/transport"
)

const shutdownTimeout = 10 * time.Second

var leaderAutostart bool

var leaderCmd = &cobra.Command{
	Use:   "leader",
	Short: "Run the leader: broadcast the clock and drive the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLeader()
	},
}

func init() {
	leaderCmd.Flags().BoolVar(&leaderAutostart, "autostart", false, "start a session immediately")
	rootCmd.AddCommand(leaderCmd)
}

func runLeader() error {
	s := loadSettings(":8080")
	log := s.logger()
	met := metrics.New()

	engine := leader.New(leader.Config{
		DeviceID:        s.deviceID,
		SyncTarget:      s.syncTarget(),
		ControlPort:     s.controlPort,
		ControlTarget:   s.controlTarget(),
		TickInterval:    envDuration("KS_TICK_INTERVAL", transport.DefaultTickInterval),
		LivenessTimeout: envDuration("KS_LIVENESS_TIMEOUT", 10*time.Second),
		ScheduleFile:    config.GetEnv("KS_SCHEDULE_FILE", "schedule.json"),
		DebugMode:       config.GetEnvBool("KS_DEBUG", false),
	}, clockwork.NewRealClock(), log, met)

	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Stop()

	if leaderAutostart {
		if err := engine.StartSession(); err != nil {
			log.Error("autostart failed", slog.String("error", err.Error()))
		}
	}

	h := leader.NewHandler(engine, log)
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			met.SetCollaborators(engine.Registry().Counts())
		}).ServeHTTP(w, req)
	})
	r.Get("/status", h.GetStatus)
	r.Get("/collaborators", h.GetCollaborators)
	r.Route("/session", func(r chi.Router) {
		r.Post("/start", h.StartSession)
		r.Post("/stop", h.StopSession)
	})
	r.Post("/schedule/reload", h.ReloadSchedule)

	srv := &http.Server{Addr: s.httpAddr, Handler: r}

	// The server goroutine reports failures instead of exiting, so the
	// deferred engine.Stop still runs and the control socket goes down
	// cleanly even when the HTTP bind fails.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info("leader running",
		slog.String("device_id", s.deviceID),
		slog.String("http_addr", s.httpAddr),
		slog.Int("sync_port", s.syncPort),
		slog.Int("control_port", s.controlPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	runErr := waitForShutdown(sigCh, errCh, log)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	return runErr
}

// waitForShutdown blocks until a termination signal arrives or the HTTP
// server fails, returning the server's error if any.
func waitForShutdown(sigCh <-chan os.Signal, errCh <-chan error, log *slog.Logger) error {
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		log.Error("server error", slog.String("error", err.Error()))
		return err
	}
}
