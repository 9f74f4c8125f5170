package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kitchensync/internal/platform/config"
	"kitchensync/internal/platform/logger"
)

// settings are the resolved runtime values shared by both roles. All of them
// come from the environment (optionally via .env); the engines only ever see
// the resolved numbers.
type settings struct {
	deviceID      string
	syncPort      int
	controlPort   int
	broadcastAddr string
	httpAddr      string
	logLevel      string
	logFormat     string
}

func loadSettings(defaultHTTPAddr string) settings {
	_ = config.Load()

	return settings{
		deviceID:      config.GetEnv("KS_DEVICE_ID", "ks-"+uuid.NewString()[:8]),
		syncPort:      config.GetEnvInt("KS_SYNC_PORT", 5005),
		controlPort:   config.GetEnvInt("KS_CONTROL_PORT", 5006),
		broadcastAddr: config.GetEnv("KS_BROADCAST_ADDR", "255.255.255.255"),
		httpAddr:      config.GetEnv("KS_HTTP_ADDR", defaultHTTPAddr),
		logLevel:      config.GetEnv("LOG_LEVEL", "info"),
		logFormat:     config.GetEnv("LOG_FORMAT", "json"),
	}
}

func (s settings) logger() *slog.Logger {
	return logger.New(s.logLevel, s.logFormat)
}

func (s settings) syncTarget() string {
	return fmt.Sprintf("%s:%d", s.broadcastAddr, s.syncPort)
}

func (s settings) controlTarget() string {
	return fmt.Sprintf("%s:%d", s.broadcastAddr, s.controlPort)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	return config.GetEnvDuration(key, fallback)
}
