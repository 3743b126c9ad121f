// Package supervisor runs one long-lived development command (a bundler, a
// test runner) and restarts it when the watch engine reports changes.
// Restart triggers are coalesced: a burst of events produces one restart.
package supervisor

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"canopy/internal/logging"
	"canopy/internal/watcher"
)

const defaultRestartDelay = 300 * time.Millisecond

type Options struct {
	// Command is the program and its arguments.
	Command []string
	Dir     string
	Env     []string
	Logger  *logging.Logger
	// RestartDelay is how long to wait after the last trigger before
	// restarting.
	RestartDelay time.Duration
}

type Supervisor struct {
	mu      sync.Mutex
	options Options
	logger  *logging.Logger
	proc    *process
	timer   *time.Timer
	closed  bool
}

func New(options Options) (*Supervisor, error) {
	if len(options.Command) == 0 {
		return nil, errors.New("command is required")
	}
	if options.RestartDelay <= 0 {
		options.RestartDelay = defaultRestartDelay
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	return &Supervisor{
		options: options,
		logger:  logger.With(map[string]string{"canopy.category": "supervisor"}),
	}, nil
}

// Start launches the supervised command.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("supervisor is closed")
	}
	return s.startLocked()
}

// Trigger schedules a restart. Calls arriving while the timer is pending
// reset it, so one restart covers a whole burst of events.
func (s *Supervisor) Trigger(event watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.logger.Debug("restart scheduled", map[string]string{
		"path":  event.Path,
		"event": string(event.Type),
	})
	if s.timer != nil {
		s.timer.Reset(s.options.RestartDelay)
		return
	}
	s.timer = time.AfterFunc(s.options.RestartDelay, s.restart)
}

// Close stops the supervised command and cancels any pending restart.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	return proc.stop()
}

// Running reports whether a child process is currently attached.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

func (s *Supervisor) restart() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc != nil {
		if err := proc.stop(); err != nil {
			s.logger.Warn("stop before restart failed", map[string]string{
				"error": err.Error(),
			})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.startLocked(); err != nil {
		s.logger.Error("restart failed", map[string]string{
			"command": strings.Join(s.options.Command, " "),
			"error":   err.Error(),
		})
	}
}

func (s *Supervisor) startLocked() error {
	proc, err := startProcess(s.options.Command, s.options.Dir, s.options.Env)
	if err != nil {
		return err
	}
	s.proc = proc
	s.logger.Info("command started", map[string]string{
		"command": strings.Join(s.options.Command, " "),
		"pid":     proc.pid(),
	})
	go s.pipeOutput(proc.output)
	return nil
}

func (s *Supervisor) pipeOutput(output io.Reader) {
	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.logger.Info(line, nil)
	}
}
