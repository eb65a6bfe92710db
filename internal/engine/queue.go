package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/telemetry"
)

// DefaultMessageDelimiter — разделитель сообщений по умолчанию.
const DefaultMessageDelimiter = ","

// Operation — асинхронная операция очереди.
// Единственный контракт, который движок знает о единице работы.
type Operation func(ctx context.Context, args ...any) (any, error)

// TaskSpec — полное описание задачи для Add.
type TaskSpec struct {
	Mode          domain.TaskMode
	Name          string    // пустое имя — результат не сохраняется
	Operation     Operation // операция
	OperationName string    // идентификатор операции; по умолчанию имя функции
	Policy        *Policy   // nil — политика очереди
	Args          []any     // аргументы; ResultArg/TemplateArg вычисляются при запуске
}

// task — задача в очереди.
type task struct {
	mode      domain.TaskMode
	name      string
	named     bool
	noResult  bool
	op        Operation
	operation string
	args      []any
	policy    Policy

	// Заполняются при запуске. result/err/elapsed пишет горутина операции
	// до закрытия done, читаются только после <-done.
	done       chan struct{}
	result     any
	err        error
	elapsed    time.Duration
	propagated bool
	owner      *Queue
}

// Config — конфигурация очереди.
type Config struct {
	// Store — хранилище результатов. nil — результаты не сохраняются.
	Store Store

	// Policy — политика ошибок по умолчанию (нулевое значение — подавлять).
	Policy Policy

	// Logger — логгер. nil — логирование отключено.
	Logger *slog.Logger

	// IncludeErrorMessage решает, попадает ли текст ошибки в Messages.
	// nil — текст ошибки никогда не попадает в сообщения.
	IncludeErrorMessage func(name, operation string, err error) bool

	// SystemCheck определяет категорию "system". nil — IsSystemError.
	SystemCheck func(error) bool

	// Metrics — метрики (опционально).
	Metrics *telemetry.Metrics
}

// Queue — очередь задач с режимами series, parallel и background.
//
// Жизненный цикл: задачи ставятся в статусе QUEUEING, затем один раз
// вызывается Run. Verify-хуки могут остановить выполнение или передать
// его другой очереди (Transfer); итоговый Store возвращается из Run.
//
// Решения о планировании принимает один координатор (горутина Run).
// Мьютекс защищает только то, что трогают фоновые задачи и аксессоры:
// статус, ошибки, сообщения, список фоновых задач и счётчики.
type Queue struct {
	id          uuid.UUID
	store       Store
	policy      Policy
	logger      *slog.Logger
	includeErr  func(name, operation string, err error) bool
	systemCheck func(error) bool
	metrics     *telemetry.Metrics

	tasks   []*task
	hooks   map[string]Hook
	onEnd   func(q, next *Queue) error
	waiting int

	mu                sync.Mutex
	status            domain.QueueStatus
	errors            []error
	runErrors         int // ошибки не фоновых задач (определяют FAILED)
	messages          []string
	backgrounds       []*task
	waitingBackground int
	forward           *Queue // очередь, которой передано выполнение
}

// New создаёт новую очередь в статусе QUEUEING.
func New(cfg Config) *Queue {
	id := uuid.New()

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	systemCheck := cfg.SystemCheck
	if systemCheck == nil {
		systemCheck = IsSystemError
	}

	return &Queue{
		id:          id,
		store:       cfg.Store,
		policy:      cfg.Policy,
		logger:      telemetry.WithQueueID(logger, id.String()),
		includeErr:  cfg.IncludeErrorMessage,
		systemCheck: systemCheck,
		metrics:     cfg.Metrics,
		hooks:       make(map[string]Hook),
		status:      domain.QueueStatusQueueing,
	}
}

// Series ставит задачу, которая ожидается до запуска следующей.
// Возвращает эффективное имя задачи.
func (q *Queue) Series(name string, op Operation, args ...any) (string, error) {
	return q.Add(TaskSpec{Mode: domain.TaskModeSeries, Name: name, Operation: op, Args: args})
}

// SeriesWithPolicy — Series с собственной политикой ошибок.
func (q *Queue) SeriesWithPolicy(name string, policy Policy, op Operation, args ...any) (string, error) {
	return q.Add(TaskSpec{Mode: domain.TaskModeSeries, Name: name, Operation: op, Policy: &policy, Args: args})
}

// Parallel ставит задачу, которая запускается без ожидания.
func (q *Queue) Parallel(name string, op Operation, args ...any) (string, error) {
	return q.Add(TaskSpec{Mode: domain.TaskModeParallel, Name: name, Operation: op, Args: args})
}

// ParallelWithPolicy — Parallel с собственной политикой ошибок.
func (q *Queue) ParallelWithPolicy(name string, policy Policy, op Operation, args ...any) (string, error) {
	return q.Add(TaskSpec{Mode: domain.TaskModeParallel, Name: name, Operation: op, Policy: &policy, Args: args})
}

// Background ставит задачу, которую Run никогда не ожидает.
// Её результат собирается через BackgroundWaiter.
func (q *Queue) Background(name string, op Operation, args ...any) (string, error) {
	return q.Add(TaskSpec{Mode: domain.TaskModeBackground, Name: name, Operation: op, Args: args})
}

// BackgroundWithPolicy — Background с собственной политикой ошибок.
func (q *Queue) BackgroundWithPolicy(name string, policy Policy, op Operation, args ...any) (string, error) {
	return q.Add(TaskSpec{Mode: domain.TaskModeBackground, Name: name, Operation: op, Policy: &policy, Args: args})
}

// Add ставит задачу по полному описанию.
//
// Без имени задача получает сгенерированный uuid, и её результат
// не сохраняется. Результаты фоновых задач в Store не попадают никогда.
func (q *Queue) Add(spec TaskSpec) (string, error) {
	if spec.Operation == nil {
		return "", ErrNilOperation
	}
	if !spec.Mode.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, spec.Mode)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.status != domain.QueueStatusQueueing {
		return "", fmt.Errorf("%w: status is %s", ErrNotQueueing, q.status)
	}

	t := &task{
		mode:      spec.Mode,
		name:      spec.Name,
		named:     spec.Name != "",
		op:        spec.Operation,
		operation: spec.OperationName,
		args:      spec.Args,
		policy:    q.policy,
		owner:     q,
	}
	if !t.named {
		t.name = uuid.NewString()
	}
	t.noResult = !t.named || t.mode == domain.TaskModeBackground
	if t.operation == "" {
		t.operation = OperationName(spec.Operation)
	}
	if spec.Policy != nil {
		t.policy = *spec.Policy
	}

	q.tasks = append(q.tasks, t)
	if t.mode == domain.TaskModeBackground {
		q.waitingBackground++
	} else {
		q.waiting++
	}

	return t.name, nil
}

// Verify регистрирует verify-хук для задачи name.
// Для одного имени действует последний зарегистрированный хук.
func (q *Queue) Verify(name string, hook Hook) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyVerifyName
	}
	if hook == nil {
		return ErrNilHook
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.status != domain.QueueStatusQueueing {
		return fmt.Errorf("%w: status is %s", ErrNotQueueing, q.status)
	}
	q.hooks[name] = hook
	return nil
}

// OnEnd регистрирует обработчик завершения Run.
// next — очередь, которой передано выполнение, или nil.
// Ошибка обработчика возвращается из Run.
func (q *Queue) OnEnd(fn func(q, next *Queue) error) error {
	if fn == nil {
		return ErrNilHook
	}
	q.onEnd = fn
	return nil
}

// Arg создаёт ссылку на результат для использования в аргументах задач.
func (q *Queue) Arg(path string) (*ResultArg, error) {
	return NewResultArg(path)
}

// Propagates сообщает, прервёт ли err выполнение при политике очереди.
func (q *Queue) Propagates(err error) bool {
	return q.policy.Propagates(err, q.systemCheck)
}

// ID возвращает идентификатор очереди.
func (q *Queue) ID() uuid.UUID {
	return q.id
}

// Status возвращает текущий статус.
func (q *Queue) Status() domain.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Result возвращает хранилище результатов.
func (q *Queue) Result() Store {
	return q.store
}

// Errors возвращает копию накопленных (подавленных) ошибок.
func (q *Queue) Errors() []error {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]error, len(q.errors))
	copy(out, q.errors)
	return out
}

// MessageList возвращает копию накопленных сообщений.
func (q *Queue) MessageList() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.messages))
	copy(out, q.messages)
	return out
}

// Messages объединяет сообщения через delimiter ("" — запятая).
func (q *Queue) Messages(delimiter string) string {
	if delimiter == "" {
		delimiter = DefaultMessageDelimiter
	}
	return strings.Join(q.MessageList(), delimiter)
}

// Count возвращает количество задач в очереди.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Waiting возвращает количество незавершённых не фоновых задач.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting
}

// WaitingBackground возвращает количество фоновых задач, ещё не собранных
// через BackgroundWaiter.
func (q *Queue) WaitingBackground() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waitingBackground
}

// String реализует fmt.Stringer.
func (q *Queue) String() string {
	return fmt.Sprintf("queue %s (%s)", q.id, q.Status())
}

// OperationName возвращает имя функции op без пути пакета,
// например "steps.Operation.func1".
func OperationName(op Operation) string {
	if op == nil {
		return ""
	}
	fn := runtime.FuncForPC(reflect.ValueOf(op).Pointer())
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
