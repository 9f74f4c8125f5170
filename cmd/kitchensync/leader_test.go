package main

import (
	"errors"
	"os"
	"testing"

	"kitchensync/internal/platform/logger"
)

func TestWaitForShutdown_signal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	sigCh <- os.Interrupt

	if err := waitForShutdown(sigCh, nil, logger.Nop()); err != nil {
		t.Errorf("signal shutdown returned %v, want nil", err)
	}
}

func TestWaitForShutdown_server_error(t *testing.T) {
	boom := errors.New("listen tcp :8080: address already in use")
	errCh := make(chan error, 1)
	errCh <- boom

	if err := waitForShutdown(make(chan os.Signal), errCh, logger.Nop()); !errors.Is(err, boom) {
		t.Errorf("server failure returned %v, want the server error", err)
	}
}
