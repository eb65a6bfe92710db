package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся когда Orchestrator начинает обработку run
// и удаляется когда run завершается.
type RunState struct {
	// Run — данные run из БД.
	Run *domain.Run

	// FlowVersion — версия flow с FlowSpec.
	FlowVersion *domain.FlowVersion

	startedAt time.Time
	report    *flow.Report
	mu        sync.RWMutex
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.Run, version *domain.FlowVersion) *RunState {
	return &RunState{
		Run:         run,
		FlowVersion: version,
		startedAt:   time.Now(),
	}
}

// Initialize проверяет FlowSpec версии до запуска.
func (s *RunState) Initialize(types flow.StepTypes) error {
	if s.FlowVersion == nil {
		return fmt.Errorf("%w: run %s has no flow version", ErrVersionNotFound, s.Run.ID)
	}
	if err := flow.Validate(&s.FlowVersion.Spec, types); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlowSpec, err)
	}
	return nil
}

func (s *RunState) setVersion(version *domain.FlowVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlowVersion = version
}

// Finish переносит отчёт выполнения в Run и переводит его в терминальный статус.
func (s *RunState) Finish(report *flow.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report = report

	run := s.Run
	run.Result = report.Result
	run.Messages = report.Messages
	run.Errors = report.Errors
	run.TerminalQueue = report.Terminal
	run.MarkFinished(report.Status, report.Error)
}

// Fail переводит Run в FAILED без отчёта.
func (s *RunState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Run.MarkFailed(err.Error())
}

// Report возвращает отчёт выполнения (nil, пока run не завершён).
func (s *RunState) Report() *flow.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// FlowID возвращает ID flow.
func (s *RunState) FlowID() uuid.UUID {
	return s.Run.FlowID
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{
		Elapsed:  time.Since(s.startedAt),
		Finished: s.report != nil,
	}
	if s.FlowVersion != nil {
		stats.Queues = len(s.FlowVersion.Spec.Queues)
		for _, q := range s.FlowVersion.Spec.Queues {
			stats.Tasks += len(q.Tasks)
		}
	}
	if s.report != nil {
		stats.Terminal = s.report.Terminal
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	Queues   int
	Tasks    int
	Elapsed  time.Duration
	Finished bool
	Terminal string
}
