package backup

import (
	"context"
	"fmt"
	"sync"

	"github.com/commkeep/commkeep/internal/logger"
)

// Status describes one account's run as seen from outside.
type Status struct {
	Running  bool     `json:"running"`
	State    State    `json:"state"`
	Progress Progress `json:"progress"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

type managedRun struct {
	runner *Runner
	cancel context.CancelFunc
}

// Manager tracks at most one running backup per account.
type Manager struct {
	log logger.Logger

	mu       sync.RWMutex
	runs     map[string]*managedRun
	outcomes map[string]Outcome
}

// NewManager creates a backup manager.
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop{}
	}
	return &Manager{
		log:      log,
		runs:     make(map[string]*managedRun),
		outcomes: make(map[string]Outcome),
	}
}

// Start launches a backup run for the account in the background.
func (m *Manager) Start(ctx context.Context, account string, runner *Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[account]; exists {
		return fmt.Errorf("backup already running for %s", account)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runs[account] = &managedRun{runner: runner, cancel: cancel}

	go func() {
		m.log.Info("backup start", logger.F("account", account))
		outcome := runner.Run(runCtx)

		m.mu.Lock()
		delete(m.runs, account)
		m.outcomes[account] = outcome
		m.mu.Unlock()
		cancel()
		m.log.Info("backup stop", logger.F("account", account), logger.F("outcome", outcome.Kind.String()))
	}()

	return nil
}

// Cancel requests a graceful stop: the run's cancellation flag is set and
// the pipeline drains at the next acknowledgement boundary. The context is
// left intact so in-flight acknowledgements still advance the checkpoint.
func (m *Manager) Cancel(account string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[account]
	if !exists {
		return fmt.Errorf("no backup running for %s", account)
	}
	run.runner.Cancel()
	return nil
}

// IsRunning reports whether a backup is in flight for the account.
func (m *Manager) IsRunning(account string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.runs[account]
	return exists
}

// Status returns the live state of a run, or the last finished outcome.
func (m *Manager) Status(account string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if run, exists := m.runs[account]; exists {
		state, progress := run.runner.Snapshot()
		return Status{Running: true, State: state, Progress: progress}
	}
	if outcome, ok := m.outcomes[account]; ok {
		state := StateCompleted
		switch outcome.Kind {
		case OutcomeCancelled:
			state = StateCancelled
		case OutcomeFailure:
			state = StateFailed
		}
		return Status{State: state, Outcome: &outcome}
	}
	return Status{State: StateIdle}
}

// StopAll hard-cancels every running backup. Used at process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for account, run := range m.runs {
		m.log.Info("stopping backup", logger.F("account", account))
		run.runner.Cancel()
		run.cancel()
	}
	m.runs = make(map[string]*managedRun)
}
