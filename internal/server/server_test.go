package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comfycap/comfycap/internal/capture"
	"github.com/comfycap/comfycap/internal/window"
)

const testWindow = capture.WindowHandle(0x1234)

// fakeCapturer returns a solid image sized the way the real engine would size
// it for a clientW x clientH client area.
func fakeCapturer(clientW, clientH int) capture.Capturer {
	return capture.CapturerFunc(func(w capture.WindowHandle, scale float64) (*capture.Result, error) {
		if w != testWindow {
			return nil, capture.ErrInvalidWindow
		}
		width, height, err := capture.ScaleDimensions(clientW, clientH, scale)
		if err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := range img.Pix {
			img.Pix[i] = 0x7f
		}
		return &capture.Result{Image: img, Width: width, Height: height}, nil
	})
}

func newTestServer(t *testing.T, c capture.Capturer) *Server {
	t.Helper()
	s := New(NewState(), c, nil)
	s.shutdownTimeout = time.Second
	t.Cleanup(s.Stop)
	return s
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func baseURL(port int) string {
	return "http://" + net.JoinHostPort(Host, strconv.Itoa(port))
}

func TestCaptureEndToEnd(t *testing.T) {
	s := newTestServer(t, fakeCapturer(101, 51))
	if err := s.Start(0, window.Fixed(testWindow), 1.5); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, body := get(t, s.URL())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if len(body) == 0 {
		t.Fatal("empty body")
	}

	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(152, 77) {
		t.Errorf("image size = %v, want (152,77)", got)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))
	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, body := get(t, baseURL(s.Port())+"/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if string(body) != "Not Found" {
		t.Errorf("body = %q, want %q", body, "Not Found")
	}
}

func TestCaptureRejectsOtherMethods(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))
	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Post(s.URL(), "text/plain", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestInvalidWindowReturnsNotFound(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))
	if err := s.Start(0, window.Fixed(0xdead), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		resp, _ := get(t, s.URL())
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("request %d: status = %d, want 404", i, resp.StatusCode)
		}
	}
	if !s.IsRunning() {
		t.Error("server stopped after failed captures")
	}
}

func TestPanickingCapturerDoesNotKillListener(t *testing.T) {
	var calls atomic.Int32
	c := capture.CapturerFunc(func(w capture.WindowHandle, scale float64) (*capture.Result, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return fakeCapturer(4, 4).Capture(w, scale)
	})
	s := newTestServer(t, c)
	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if resp, _ := get(t, s.URL()); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("first status = %d, want 404", resp.StatusCode)
	}
	if resp, _ := get(t, s.URL()); resp.StatusCode != http.StatusOK {
		t.Fatalf("second status = %d, want 200", resp.StatusCode)
	}
}

func TestConcurrentCapturesAreSerialized(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once

	inner := fakeCapturer(8, 8)
	c := capture.CapturerFunc(func(w capture.WindowHandle, scale float64) (*capture.Result, error) {
		first.Do(func() {
			close(entered)
			<-release
		})
		return inner.Capture(w, scale)
	})

	s := newTestServer(t, c)
	var (
		mu      sync.Mutex
		held    bool
		overlap bool
	)
	s.onCapture = func(begin bool) {
		mu.Lock()
		defer mu.Unlock()
		if begin && held {
			overlap = true
		}
		held = begin
	}
	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	firstStatus := make(chan int, 1)
	go func() {
		resp, err := http.Get(s.URL())
		if err != nil {
			firstStatus <- -1
			return
		}
		resp.Body.Close()
		firstStatus <- resp.StatusCode
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first capture never started")
	}

	resp, _ := get(t, s.URL())
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("concurrent status = %d, want 503", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After on busy response")
	}

	close(release)
	if got := <-firstStatus; got != http.StatusOK {
		t.Errorf("first status = %d, want 200", got)
	}

	// Once the guard is free captures go through again.
	if resp, _ := get(t, s.URL()); resp.StatusCode != http.StatusOK {
		t.Errorf("follow-up status = %d, want 200", resp.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("two captures held the guard at the same time")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Fatal("stopped server reports running")
	}

	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.Stop()
	}
	if s.IsRunning() || s.Port() != 0 || s.URL() != "" {
		t.Errorf("after Stop: running=%v port=%d url=%q", s.IsRunning(), s.Port(), s.URL())
	}
}

func TestStopTearsDownListener(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))
	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	url := s.URL()
	s.Stop()

	client := &http.Client{Timeout: 2 * time.Second}
	if resp, err := client.Get(url); err == nil {
		resp.Body.Close()
		t.Fatalf("GET after Stop succeeded with status %d", resp.StatusCode)
	}
}

func TestStartWhileRunning(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))
	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := s.Start(0, window.Fixed(testWindow), 1)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartValidatesArguments(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))

	tests := []struct {
		name    string
		port    int
		locator window.Locator
		scale   float64
		want    error
	}{
		{"negative port", -1, window.Fixed(testWindow), 1, ErrInvalidPort},
		{"port too large", 70000, window.Fixed(testWindow), 1, ErrInvalidPort},
		{"zero scale", 0, window.Fixed(testWindow), 0, capture.ErrInvalidScale},
		{"no locator", 0, nil, 1, capture.ErrInvalidWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Start(tt.port, tt.locator, tt.scale)
			if !errors.Is(err, tt.want) {
				t.Errorf("Start error = %v, want %v", err, tt.want)
			}
			if s.IsRunning() {
				t.Error("server running after rejected Start")
			}
		})
	}
}

func TestBindErrorLeavesServerStopped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	s := newTestServer(t, fakeCapturer(10, 10))
	err = s.Start(busy, window.Fixed(testWindow), 1)

	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("Start error = %v, want *BindError", err)
	}
	if bindErr.Addr != fmt.Sprintf("127.0.0.1:%d", busy) {
		t.Errorf("BindError.Addr = %q", bindErr.Addr)
	}
	if s.IsRunning() {
		t.Error("server running after bind failure")
	}
}

func TestRestartSamePortKeepsListener(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))
	port := freePort(t)
	if err := s.Start(port, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := s.state.taskID()

	for i := 0; i < 2; i++ {
		if err := s.Restart(port, window.Fixed(testWindow), 1); err != nil {
			t.Fatalf("Restart %d: %v", i, err)
		}
	}
	if got := s.state.taskID(); got != id {
		t.Errorf("task id = %d after same-port restart, want %d", got, id)
	}
	if s.Port() != port {
		t.Errorf("Port = %d, want %d", s.Port(), port)
	}
}

func TestRestartMovesToNewPort(t *testing.T) {
	s := newTestServer(t, fakeCapturer(10, 10))
	events := s.Events().Subscribe()
	defer s.Events().Unsubscribe(events)

	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	oldURL := s.URL()
	oldPort := s.Port()
	newPort := freePort(t)

	if err := s.Restart(newPort, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !s.IsRunning() || s.Port() != newPort {
		t.Fatalf("after Restart: running=%v port=%d, want %d", s.IsRunning(), s.Port(), newPort)
	}

	if resp, _ := get(t, s.URL()); resp.StatusCode != http.StatusOK {
		t.Errorf("new port status = %d, want 200", resp.StatusCode)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	if resp, err := client.Get(oldURL); err == nil {
		resp.Body.Close()
		t.Errorf("old port still answering with %d", resp.StatusCode)
	}

	want := []Event{
		{Type: EventServerStarted, Port: oldPort},
		{Type: EventServerStopped, Port: oldPort},
		{Type: EventServerStarted, Port: newPort},
	}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not published", i)
		}
	}
}

func TestStopLetsInFlightCaptureFinish(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	inner := fakeCapturer(20, 10)
	c := capture.CapturerFunc(func(w capture.WindowHandle, scale float64) (*capture.Result, error) {
		once.Do(func() { close(entered) })
		time.Sleep(200 * time.Millisecond)
		return inner.Capture(w, scale)
	})

	s := newTestServer(t, c)
	if err := s.Start(0, window.Fixed(testWindow), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	url := s.URL()

	type result struct {
		code int
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get(url)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		done <- result{code: resp.StatusCode, body: body, err: err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("capture never started")
	}
	s.Stop()

	r := <-done
	if r.err != nil || r.code != http.StatusOK {
		t.Fatalf("in-flight capture: code=%d err=%v", r.code, r.err)
	}
	if _, err := png.Decode(bytes.NewReader(r.body)); err != nil {
		t.Errorf("in-flight body is not a PNG: %v", err)
	}
	if s.IsRunning() {
		t.Error("server still running after Stop")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	if resp, err := client.Get(url); err == nil {
		resp.Body.Close()
		t.Errorf("listener still answering after Stop with %d", resp.StatusCode)
	}
}
