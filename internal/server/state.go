package server

import (
	"net/http"
	"sync"
)

// listenerTask is the handle of one running capture listener.
type listenerTask struct {
	id   uint64
	srv  *http.Server
	done chan struct{} // closed once Serve has returned
}

// State is the process-wide record of the capture listener. It is created
// once and mutated only by Server's Start, Stop and Restart.
//
// The task handle and its stop signal are always set and cleared together,
// so task != nil exactly when stop != nil.
type State struct {
	// lifecycle serializes Start/Stop/Restart so two callers can never
	// spawn two listeners.
	lifecycle sync.Mutex

	mu   sync.Mutex
	task *listenerTask
	stop chan struct{}
	port int
}

// NewState returns a State in the stopped state.
func NewState() *State {
	return &State{}
}

func (s *State) set(task *listenerTask, stop chan struct{}, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task, s.stop, s.port = task, stop, port
}

// take clears the state and returns what was there.
func (s *State) take() (*listenerTask, chan struct{}, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, stop, port := s.task, s.stop, s.port
	s.task, s.stop, s.port = nil, nil, 0
	return task, stop, port
}

// Running reports whether a listener is up and the port it is bound to.
func (s *State) Running() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil, s.port
}

func (s *State) taskID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task == nil {
		return 0
	}
	return s.task.id
}
