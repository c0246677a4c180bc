package server

import (
	"net/http"
	"strconv"

	"github.com/comfycap/comfycap/internal/capture"
	"github.com/comfycap/comfycap/internal/imaging"
	"github.com/comfycap/comfycap/internal/window"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// CapturePath is the only route served by the capture listener.
const CapturePath = "/capture_screen"

// captureHandler serves one listener instance. Its guard admits a single
// in-flight capture; anything arriving meanwhile gets 503 and may retry.
type captureHandler struct {
	capturer capture.Capturer
	locator  window.Locator
	scale    float64
	guard    *semaphore.Weighted
	worker   *worker
	log      *zerolog.Logger

	// onCapture, when set, brackets each guarded capture. Tests use it to
	// check that captures never overlap.
	onCapture func(begin bool)
}

func newRouter(h *captureHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(CapturePath, h.handleCapture).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(notFound)
	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not Found"))
}

func (h *captureHandler) handleCapture(w http.ResponseWriter, r *http.Request) {
	if !h.guard.TryAcquire(1) {
		h.log.Debug().Str("remote", r.RemoteAddr).Msg("Capture already in progress, rejecting")
		w.Header().Set("Retry-After", "1")
		http.Error(w, "capture in progress", http.StatusServiceUnavailable)
		return
	}
	defer h.guard.Release(1)

	if h.onCapture != nil {
		h.onCapture(true)
		defer h.onCapture(false)
	}

	res, err := h.worker.do(r.Context(), func() (*capture.Result, error) {
		hwnd, err := h.locator.Resolve()
		if err != nil {
			return nil, err
		}
		return h.capturer.Capture(hwnd, h.scale)
	})
	if err != nil {
		h.log.Warn().Err(err).Str("window", h.locator.String()).Msg("Capture failed")
		notFound(w, r)
		return
	}

	data, err := imaging.EncodePNG(res.Image)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode capture")
		notFound(w, r)
		return
	}

	w.Header().Set("Content-Type", imaging.ContentTypePNG)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		h.log.Debug().Err(err).Msg("Client went away during response")
	}
}
