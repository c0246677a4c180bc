package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/comfycap/comfycap/internal/capture"
	"github.com/comfycap/comfycap/internal/config"
	"github.com/comfycap/comfycap/internal/imaging"
	"github.com/comfycap/comfycap/internal/logger"
	"github.com/comfycap/comfycap/internal/server"
	"github.com/comfycap/comfycap/internal/window"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is reported by /api/health.
const Version = "0.1.0"

// Status describes the capture listener.
type Status struct {
	Running bool   `json:"running"`
	Port    int    `json:"port"`
	URL     string `json:"url,omitempty"`
}

// StartRequest is the body of POST /api/server/start. Missing fields fall
// back to the configuration.
type StartRequest struct {
	Port        *int     `json:"port,omitempty"`
	ScaleFactor *float64 `json:"scale_factor,omitempty"`
}

// CaptureResponse is returned by GET /api/capture.
type CaptureResponse struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Image  string `json:"image"`
}

type statusFrame struct {
	Type string `json:"type"`
	Status
}

// Server is the control API the shell talks to. It never captures on its
// own listener's behalf; captures go through the shared capturer.
type Server struct {
	router    *mux.Router
	capSrv    *server.Server
	capturer  capture.Capturer
	locator   window.Locator
	configMgr *config.Manager
	defaults  func() *config.Config
	upgrader  websocket.Upgrader
	log       *zerolog.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

// NewServer creates a new API server. capturer should be the same serialized
// capturer the capture listener uses.
func NewServer(capSrv *server.Server, capturer capture.Capturer, locator window.Locator, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		capSrv:    capSrv,
		capturer:  capture.Serialize(capturer),
		locator:   locator,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:  logger.WithComponent("api"),
		quit: make(chan struct{}),
	}

	s.defaults = configMgr.Get
	s.setupRoutes()
	return s
}

// WithDefaults makes fn the source of the port, scale and preview width used
// when a request does not name them. It defaults to the config file; the
// daemon passes the configuration with command-line overrides applied.
func (s *Server) WithDefaults(fn func() *config.Config) *Server {
	s.defaults = fn
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Capture listener lifecycle
	api.HandleFunc("/server", s.handleServerStatus).Methods("GET")
	api.HandleFunc("/server/start", s.handleServerStart).Methods("POST")
	api.HandleFunc("/server/stop", s.handleServerStop).Methods("POST")
	api.HandleFunc("/events", s.handleEvents)

	// Direct capture
	api.HandleFunc("/capture", s.handleCapture).Methods("GET")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
}

// Handler returns the API handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Run serves the API on 127.0.0.1:port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := net.JoinHostPort(server.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &server.BindError{Addr: addr, Err: err}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("Control API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("Control API shutdown incomplete")
		return srv.Close()
	}
	s.log.Info().Msg("Control API stopped")
	return nil
}

// Close ends open event streams.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) status() Status {
	return Status{
		Running: s.capSrv.IsRunning(),
		Port:    s.capSrv.Port(),
		URL:     s.capSrv.URL(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleServerStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	cfg := s.defaults()
	port, scale := cfg.CapturePort, cfg.ScaleFactor
	if req.Port != nil {
		port = *req.Port
	}
	if req.ScaleFactor != nil {
		scale = *req.ScaleFactor
	}

	if err := s.capSrv.Restart(port, s.locator, scale); err != nil {
		var bindErr *server.BindError
		switch {
		case errors.As(err, &bindErr):
			s.writeError(w, http.StatusConflict, err)
		case errors.Is(err, server.ErrInvalidPort),
			errors.Is(err, capture.ErrInvalidScale),
			errors.Is(err, capture.ErrInvalidWindow):
			s.writeError(w, http.StatusBadRequest, err)
		default:
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleServerStop(w http.ResponseWriter, r *http.Request) {
	s.capSrv.Stop()
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	cfg := s.defaults()
	maxWidth := cfg.PreviewMaxWidth
	if v := r.URL.Query().Get("max_width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("max_width must be a non-negative integer"))
			return
		}
		maxWidth = n
	}

	res, err := s.captureOnce(cfg.ScaleFactor)
	if err != nil {
		s.log.Warn().Err(err).Str("window", s.locator.String()).Msg("Direct capture failed")
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, capture.ErrInvalidWindow):
			code = http.StatusNotFound
		case errors.Is(err, capture.ErrEmptyClientArea):
			code = http.StatusConflict
		}
		s.writeError(w, code, err)
		return
	}

	img := imaging.Preview(res.Image, maxWidth)
	encoded, err := imaging.EncodeBase64PNG(img)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	b := img.Bounds()
	s.writeJSON(w, http.StatusOK, CaptureResponse{
		Width:  b.Dx(),
		Height: b.Dy(),
		Image:  encoded,
	})
}

// captureOnce runs one capture pinned to the current OS thread.
func (s *Server) captureOnce(scale float64) (*capture.Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hwnd, err := s.locator.Resolve()
	if err != nil {
		return nil, err
	}
	return s.capturer.Capture(hwnd, scale)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.defaults())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.capSrv.Events().Subscribe()
	defer s.capSrv.Events().Unsubscribe(updates)

	// Reads only to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeFrame(conn, statusFrame{Type: "status", Status: s.status()}); err != nil {
		return
	}

	for {
		select {
		case e, ok := <-updates:
			if !ok {
				return
			}
			if err := s.writeFrame(conn, e); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.quit:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write error")
		return err
	}
	return nil
}
