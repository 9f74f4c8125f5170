package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"

	"kitchensync/internal/collaborator"
	"kitchensync/internal/cue"
	"kitchensync/internal/platform/config"
	"kitchensync/internal/platform/metrics"
	"kitchensync/internal/player"
	"kitchensync/internal/synctrack"
	"kitchensync/internal/trigger"
)

var collaboratorCmd = &cobra.Command{
	Use:   "collaborator",
	Short: "Run a collaborator: follow the leader's clock and fire cues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollaborator()
	},
}

func init() {
	rootCmd.AddCommand(collaboratorCmd)
}

func runCollaborator() error {
	s := loadSettings("")
	log := s.logger()
	met := metrics.New()

	pl, closer := buildPlayer(log)
	if closer != nil {
		defer closer()
	}

	sink := buildSink(log)
	defer midi.CloseDriver()

	engine := collaborator.New(collaborator.Config{
		DeviceID:          s.deviceID,
		VideoFile:         config.GetEnv("KS_VIDEO_FILE", ""),
		SyncPort:          s.syncPort,
		ControlPort:       s.controlPort,
		ControlTarget:     s.controlTarget(),
		HeartbeatInterval: envDuration("KS_HEARTBEAT_INTERVAL", collaborator.DefaultHeartbeatInterval),
		LoopJumpThreshold: config.GetEnvFloat("KS_LOOP_JUMP_THRESHOLD", cue.DefaultLoopJumpThreshold),
		Corrector: synctrack.CorrectorConfig{
			DeviationThreshold: config.GetEnvFloat("KS_DEVIATION_THRESHOLD", synctrack.DefaultDeviationThreshold),
			CorrectionCooldown: envDuration("KS_CORRECTION_COOLDOWN", synctrack.DefaultCorrectionCooldown),
			MinSamples:         config.GetEnvInt("KS_MIN_DEVIATION_SAMPLES", synctrack.DefaultMinDeviationSamples),
		},
	}, pl, sink, clockwork.NewRealClock(), log, met)

	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Stop()

	// Metrics are optional on collaborators; only serve when an address
	// is configured.
	if s.httpAddr != "" {
		go serveCollaboratorMetrics(s.httpAddr, engine, met, log)
	}

	log.Info("collaborator running",
		slog.String("device_id", s.deviceID),
		slog.Int("sync_port", s.syncPort),
		slog.Int("control_port", s.controlPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	return nil
}

// buildPlayer returns the mpv adapter when a socket is configured, the null
// player otherwise. The second return closes the adapter, nil for the null
// player.
func buildPlayer(log *slog.Logger) (player.Player, func() error) {
	socket := config.GetEnv("KS_MPV_SOCKET", "")
	if socket == "" {
		log.Info("no mpv socket configured, running cue-only")
		return player.NewNull(), nil
	}
	mpv, err := player.NewMPV(socket)
	if err != nil {
		log.Warn("mpv unavailable, running cue-only", slog.String("error", err.Error()))
		return player.NewNull(), nil
	}
	log.Info("connected to mpv", slog.String("socket", socket))
	return mpv, mpv.Close
}

// buildSink returns the MIDI trigger output when a port is configured and
// available, the log sink otherwise.
func buildSink(log *slog.Logger) cue.Sink {
	port := config.GetEnv("KS_MIDI_PORT", "")
	if port == "" {
		return trigger.NewLogSink(log)
	}
	sink, err := trigger.NewMIDISink(port)
	if err != nil {
		log.Warn("midi unavailable, logging cues instead", slog.String("error", err.Error()))
		return trigger.NewLogSink(log)
	}
	log.Info("midi trigger output open", slog.String("port", port))
	return sink
}

func serveCollaboratorMetrics(addr string, engine *collaborator.Engine, met *metrics.Metrics, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler(func() {
		met.SetAverageDrift(engine.Tracker().AverageDrift())
	}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(engine.Status()); err != nil {
			log.Error("write status", slog.String("error", err.Error()))
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server error", slog.String("error", err.Error()))
	}
}
