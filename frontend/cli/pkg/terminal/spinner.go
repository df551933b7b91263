package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner redraws one status line until stopped.
type Spinner struct {
	frames   []string
	interval time.Duration
	message  string
	writer   io.Writer
	active   bool
	mu       sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewSpinner(writer io.Writer, message string) *Spinner {
	return &Spinner{
		frames:   []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"},
		interval: 500 * time.Millisecond,
		message:  message,
		writer:   writer,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	go s.spin()
}

// Stop clears the status line and prints completionMessage in its place.
func (s *Spinner) Stop(completionMessage string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	fmt.Fprintf(s.writer, "\r\033[K")
	if completionMessage != "" {
		fmt.Fprintf(s.writer, "%s\n", completionMessage)
	}
}

// UpdateMessage is safe to call from any goroutine.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) spin() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for frame := 0; ; frame = (frame + 1) % len(s.frames) {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			message := s.message
			s.mu.Unlock()

			fmt.Fprintf(s.writer, "\r%s %s", s.frames[frame], message)
		}
	}
}
