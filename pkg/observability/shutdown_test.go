package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{
			name:            "with custom timeout",
			timeout:         10 * time.Second,
			expectedTimeout: 10 * time.Second,
		},
		{
			name:            "with zero timeout uses default",
			timeout:         0,
			expectedTimeout: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(InfoLevel, &bytes.Buffer{})
			server := &http.Server{}

			sm := NewShutdownManager(logger, server, tt.timeout)
			if sm == nil {
				t.Fatal("Expected non-nil shutdown manager")
			}
			if sm.server != server {
				t.Error("Server not set correctly")
			}
			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("Expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
		})
	}
}

func TestShutdownManager_RunsFunctionsOnce(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	var calls int32
	sm.RegisterShutdownFunc("counter", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Unexpected error on second shutdown: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected shutdown function to run once, ran %d times", got)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	sm.RegisterShutdownFunc("ok", func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc("broken", func(ctx context.Context) error { return errors.New("close failed") })

	err := sm.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Expected error from failing shutdown function")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("broken: close failed")) {
		t.Errorf("Expected error to name the failing function, got %v", err)
	}
}

func TestShutdownManager_RecoversPanics(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	sm.RegisterShutdownFunc("panicky", func(ctx context.Context) error {
		panic("boom")
	})

	if err := sm.Shutdown(context.Background()); err == nil {
		t.Error("Expected error after panicking shutdown function")
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	release := make(chan struct{})
	defer close(release)
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := sm.Shutdown(ctx); err == nil {
		t.Error("Expected timeout error")
	}
}
