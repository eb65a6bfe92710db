package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/repo"
	"github.com/shaiso/relay/internal/telemetry"
)

// Default configuration values.
const (
	defaultTickInterval = time.Second
	defaultSyncInterval = 30 * time.Second
)

// FlowStore — источник flows с расписанием (repo.FlowRepo).
type FlowStore interface {
	ListScheduled(ctx context.Context) ([]domain.FlowVersion, error)
}

// RunStore — хранилище runs (repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, flowID uuid.UUID, key string) (*domain.Run, error)
}

// Notifier публикует run.pending (mq.Publisher).
type Notifier interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// entry — расписание одного flow.
type entry struct {
	version domain.FlowVersion
	def     domain.ScheduleDef
	next    time.Time
}

// Scheduler — планировщик запусков flows по расписанию.
type Scheduler struct {
	flows     FlowStore
	runs      RunStore
	publisher Notifier
	locker    Locker
	logger    *slog.Logger

	tickInterval time.Duration
	syncInterval time.Duration
	now          func() time.Time

	entries map[uuid.UUID]*entry
	mu      sync.Mutex
}

// Config — конфигурация Scheduler.
type Config struct {
	FlowRepo FlowStore
	RunRepo  RunStore

	// Publisher — публикация run.pending (опционально).
	// Без него runs подхватит polling оркестратора.
	Publisher Notifier

	// Locker — выбор лидера. nil — этот экземпляр всегда лидер.
	Locker Locker

	TickInterval time.Duration // интервал тиков (default: 1s)
	SyncInterval time.Duration // интервал перечитывания расписаний (default: 30s)

	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}

	syncEvery := cfg.SyncInterval
	if syncEvery <= 0 {
		syncEvery = defaultSyncInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	return &Scheduler{
		flows:        cfg.FlowRepo,
		runs:         cfg.RunRepo,
		publisher:    cfg.Publisher,
		locker:       cfg.Locker,
		logger:       logger,
		tickInterval: tick,
		syncInterval: syncEvery,
		now:          time.Now,
		entries:      make(map[uuid.UUID]*entry),
	}
}

// Sync перечитывает flows с расписанием.
//
// Для новых и изменённых расписаний вычисляется следующее время запуска.
// Расписания удалённых или выключенных flows снимаются.
func (s *Scheduler) Sync(ctx context.Context) error {
	versions, err := s.flows.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled flows: %w", err)
	}

	now := s.now()
	seen := make(map[uuid.UUID]bool, len(versions))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range versions {
		def := v.Spec.Schedule
		if def == nil {
			continue
		}
		seen[v.FlowID] = true

		if e, ok := s.entries[v.FlowID]; ok && e.def.Cron == def.Cron && e.def.Timezone == def.Timezone {
			e.version = v
			e.def = *def
			continue
		}

		next, err := CalculateNextDue(def, now)
		if err != nil {
			s.logger.Warn("skip flow with invalid schedule",
				"flow_id", v.FlowID,
				"version", v.Version,
				"error", err,
			)
			delete(s.entries, v.FlowID)
			continue
		}

		s.entries[v.FlowID] = &entry{version: v, def: *def, next: next}
		s.logger.Info("schedule registered",
			"flow_id", v.FlowID,
			"cron", def.Cron,
			"next_due_at", next,
		)
	}

	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
			s.logger.Info("schedule removed", "flow_id", id)
		}
	}

	return nil
}

// Tick создаёт runs для расписаний, время которых наступило.
//
// Ошибки одного flow не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	s.mu.Lock()
	due := make([]*entry, 0)
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return nil
	}

	sort.Slice(due, func(i, j int) bool { return due[i].next.Before(due[j].next) })

	var created int
	for _, e := range due {
		runCreated, err := s.fire(ctx, e, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"flow_id", e.version.FlowID,
				"error", err,
			)
			continue
		}
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"runs_created", created,
	)

	return nil
}

// fire создаёт run для одного расписания и сдвигает next.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) (bool, error) {
	s.mu.Lock()
	version, def, dueAt := e.version, e.def, e.next
	s.mu.Unlock()

	key := IdempotencyKey(version.FlowID, dueAt)

	existing, err := s.runs.GetByIdempotencyKey(ctx, version.FlowID, key)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}

	var run *domain.Run
	if existing == nil {
		run = &domain.Run{
			ID:             uuid.New(),
			FlowID:         version.FlowID,
			Version:        version.Version,
			Status:         domain.RunStatusPending,
			Inputs:         def.Inputs,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		if err := s.runs.Create(ctx, run); err != nil {
			if !errors.Is(err, repo.ErrAlreadyExists) {
				return false, fmt.Errorf("create run: %w", err)
			}
			// Другой лидер успел создать run
			run = nil
		}
	}

	next, err := CalculateNextDue(&def, now)
	s.mu.Lock()
	if err != nil {
		delete(s.entries, version.FlowID)
	} else {
		e.next = next
	}
	s.mu.Unlock()
	if err != nil {
		return run != nil, fmt.Errorf("calculate next due: %w", err)
	}

	if run == nil {
		s.logger.Debug("run already exists (idempotency)",
			"flow_id", version.FlowID,
			"idempotency_key", key,
		)
		return false, nil
	}

	s.logger.Info("created run from schedule",
		"run_id", run.ID,
		"flow_id", run.FlowID,
		"version", run.Version,
		"due_at", dueAt,
		"next_due_at", next,
	)

	if s.publisher != nil {
		if err := s.publisher.PublishRunPending(ctx, run.ID); err != nil {
			// Не фатальная ошибка — run уже создан в БД,
			// оркестратор заберёт его через polling
			s.logger.Warn("failed to publish run.pending",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	return true, nil
}

// NextDue возвращает следующее время запуска flow.
func (s *Scheduler) NextDue(flowID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[flowID]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// Run выполняет цикл планировщика до отмены ctx.
//
// Тики выполняет только лидер; при потере лидерства
// расписания перечитываются заново.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := time.NewTicker(s.tickInterval)
	defer tick.Stop()

	var leader bool
	var lastSync time.Time

	defer func() {
		if leader && s.locker != nil {
			if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release leadership", "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		if !leader {
			ok, err := s.tryLead(ctx)
			if err != nil {
				s.logger.Warn("leader election failed", "error", err)
				continue
			}
			if !ok {
				continue
			}
			leader = true
			lastSync = time.Time{}
			s.logger.Info("became scheduler leader")
		}

		if time.Since(lastSync) >= s.syncInterval {
			if err := s.Sync(ctx); err != nil {
				s.logger.Error("schedule sync failed", "error", err)
				continue
			}
			lastSync = time.Now()
		}

		if err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}
}

func (s *Scheduler) tryLead(ctx context.Context) (bool, error) {
	if s.locker == nil {
		return true, nil
	}
	return s.locker.TryLock(ctx)
}
