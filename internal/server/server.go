package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/comfycap/comfycap/internal/capture"
	"github.com/comfycap/comfycap/internal/logger"
	"github.com/comfycap/comfycap/internal/window"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Host is the only interface the capture listener binds to.
const Host = "127.0.0.1"

var (
	// ErrAlreadyRunning is returned by Start when a listener is up.
	ErrAlreadyRunning = errors.New("capture server already running")

	// ErrInvalidPort is returned for ports outside 0-65535.
	ErrInvalidPort = errors.New("invalid port")
)

// BindError reports that the listener could not bind its address.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Server manages the lifecycle of the capture listener. Port 0 asks the OS
// for a free port; Port reports the one actually bound.
type Server struct {
	state    *State
	capturer capture.Capturer
	events   *Bus
	log      *zerolog.Logger

	nextID          atomic.Uint64
	shutdownTimeout time.Duration
	onCapture       func(begin bool)
}

// New creates a Server. events may be nil.
func New(state *State, capturer capture.Capturer, events *Bus) *Server {
	if events == nil {
		events = NewBus()
	}
	return &Server{
		state:           state,
		capturer:        capturer,
		events:          events,
		log:             logger.WithComponent("capture-server"),
		shutdownTimeout: 3 * time.Second,
	}
}

// Events returns the bus lifecycle events are published on.
func (s *Server) Events() *Bus {
	return s.events
}

// Start binds 127.0.0.1:port and serves the capture route in the background.
// Bind failures are returned as *BindError and leave the server stopped.
func (s *Server) Start(port int, locator window.Locator, scale float64) error {
	s.state.lifecycle.Lock()
	defer s.state.lifecycle.Unlock()
	return s.startLocked(port, locator, scale)
}

// Stop stops accepting connections, lets in-flight captures finish and waits
// for the listener to exit. Connections still open after the shutdown
// timeout are closed. Stopping a stopped server does nothing.
func (s *Server) Stop() {
	s.state.lifecycle.Lock()
	defer s.state.lifecycle.Unlock()
	s.stopLocked()
}

// Restart moves the listener to port. If it is already running on that port
// nothing happens.
func (s *Server) Restart(port int, locator window.Locator, scale float64) error {
	s.state.lifecycle.Lock()
	defer s.state.lifecycle.Unlock()

	if running, bound := s.state.Running(); running && bound == port {
		s.log.Debug().Int("port", port).Msg("Capture server already on requested port")
		return nil
	}
	s.stopLocked()
	return s.startLocked(port, locator, scale)
}

// IsRunning reports whether the listener is up.
func (s *Server) IsRunning() bool {
	running, _ := s.state.Running()
	return running
}

// Port returns the bound port, or 0 when stopped.
func (s *Server) Port() int {
	_, port := s.state.Running()
	return port
}

// URL returns the capture URL, or "" when stopped.
func (s *Server) URL() string {
	running, port := s.state.Running()
	if !running {
		return ""
	}
	return CaptureURL(port)
}

// CaptureURL formats the capture URL for port.
func CaptureURL(port int) string {
	return "http://" + net.JoinHostPort(Host, strconv.Itoa(port)) + CapturePath
}

func (s *Server) startLocked(port int, locator window.Locator, scale float64) error {
	if running, bound := s.state.Running(); running {
		return fmt.Errorf("%w on port %d", ErrAlreadyRunning, bound)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if _, _, err := capture.ScaleDimensions(0, 0, scale); err != nil {
		return err
	}
	if locator == nil {
		return fmt.Errorf("%w: no window locator", capture.ErrInvalidWindow)
	}

	addr := net.JoinHostPort(Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error().Err(err).Str("addr", addr).Msg("Failed to bind capture listener")
		return &BindError{Addr: addr, Err: err}
	}
	bound := ln.Addr().(*net.TCPAddr).Port

	h := &captureHandler{
		capturer:  s.capturer,
		locator:   locator,
		scale:     scale,
		guard:     semaphore.NewWeighted(1),
		worker:    newWorker(),
		log:       s.log,
		onCapture: s.onCapture,
	}
	task := &listenerTask{
		id: s.nextID.Add(1),
		srv: &http.Server{
			Handler:           newRouter(h),
			ReadHeaderTimeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
	stop := make(chan struct{})

	s.state.set(task, stop, bound)
	go s.serve(task, ln, stop, h.worker)

	s.log.Info().
		Int("port", bound).
		Str("window", locator.String()).
		Float64("scale", scale).
		Msg("Capture server started")
	s.events.Publish(Event{Type: EventServerStarted, Port: bound})
	return nil
}

func (s *Server) serve(task *listenerTask, ln net.Listener, stop chan struct{}, w *worker) {
	defer close(task.done)

	go w.run()
	defer w.close()

	// Serve returns as soon as Shutdown begins; done must wait until the
	// in-flight requests Shutdown drains have finished.
	served := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		select {
		case <-stop:
			ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := task.srv.Shutdown(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Graceful shutdown timed out, closing connections")
				task.srv.Close()
			}
		case <-served:
		}
	}()

	if err := task.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error().Err(err).Msg("Capture listener failed")
	}
	close(served)
	<-drained
	s.log.Debug().Uint64("task", task.id).Msg("Capture listener exited")
}

func (s *Server) stopLocked() {
	task, stop, port := s.state.take()
	if task == nil {
		return
	}

	close(stop)

	// Close is only a backstop for a listener that ignores the stop signal.
	select {
	case <-task.done:
	case <-time.After(s.shutdownTimeout + time.Second):
		s.log.Warn().Int("port", port).Msg("Capture listener ignored stop signal, aborting")
		if err := task.srv.Close(); err != nil {
			s.log.Warn().Err(err).Int("port", port).Msg("Error closing capture listener")
		}
		select {
		case <-task.done:
		case <-time.After(time.Second):
			s.log.Warn().Int("port", port).Msg("Capture listener did not exit in time")
		}
	}

	s.log.Info().Int("port", port).Msg("Capture server stopped")
	s.events.Publish(Event{Type: EventServerStopped, Port: port})
}
