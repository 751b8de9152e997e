package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StartStopper is a component with its own goroutines, like the sync engine.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// StartStopService adapts a StartStopper to suture.Service.
type StartStopService struct {
	component StartStopper
	name      string
}

func NewStartStopService(name string, component StartStopper) *StartStopService {
	return &StartStopService{component: component, name: name}
}

func (s *StartStopService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.component.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *StartStopService) String() string { return s.name }

// FuncService supervises a blocking function that returns when ctx is done,
// such as the push listener or the replay worker.
type FuncService struct {
	name string
	run  func(ctx context.Context) error
}

func NewFuncService(name string, run func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, run: run}
}

func (f *FuncService) Serve(ctx context.Context) error {
	if err := f.run(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", f.name, err)
	}
	return ctx.Err()
}

func (f *FuncService) String() string { return f.name }

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an http.Server until ctx is cancelled.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// ctx is already cancelled; give shutdown its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "admin-http-server" }
