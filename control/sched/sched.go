// Package sched runs a fixed set of run-to-completion tasks at static priorities, sharing state
// through resources guarded by the priority ceiling protocol.
//
// Every priority level has one dispatcher goroutine, so tasks at the same level never overlap,
// while tasks at different levels run independently of each other.  A task is pended either by
// a ticker (Task.Every) or in software (Handle.Pend), the way a peripheral raises an interrupt.
//
// Shared state lives in a Shared value.  A task lists the resources it uses in Task.Shared, and
// the ceiling of each resource becomes the highest priority of the tasks that declare it.
// Locking a resource raises the system ceiling; a dispatcher only starts a task whose priority
// is above the system ceiling, and a task only acquires a lock when no higher-priority task is
// running.  Together these mean that a task never waits on a resource held by a lower-priority
// task and that the lock graph cannot deadlock.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/slices"
)

// MaxTasksPerLevel is the number of tasks that can share one priority level.
const MaxTasksPerLevel = 64

var (
	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_runs",
		Help: "count of completed task runs",
	}, []string{"task"})
	taskOverruns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_overruns",
		Help: "count of pends that found the task already pending",
	}, []string{"task"})
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration",
		Help:    "time from a task starting to it finishing, in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"task"})
)

// Priority orders tasks; higher numbers win.
type Priority uint8

// Task describes one task.
type Task struct {
	Name     string
	Priority Priority
	// Every pends the task periodically.  Zero means the task is only pended by Handle.Pend.
	Every time.Duration
	// Shared lists every resource the task locks.
	Shared []Resource
	Run    func(c *Context)
}

// Resource is implemented by *Shared.
type Resource interface {
	base() *resource
}

type resource struct {
	name    string
	id      int // lock order; assigned on first registration
	ceiling Priority
	owner   *Scheduler
	mu      sync.Mutex
}

func (r *resource) base() *resource { return r }

// Shared is a value of type T protected by a ceiling lock.
type Shared[T any] struct {
	resource
	value T
}

// NewShared returns a resource holding v.
func NewShared[T any](name string, v T) *Shared[T] {
	return &Shared[T]{resource: resource{name: name, id: -1}, value: v}
}

// Name returns the resource's name.
func (s *Shared[T]) Name() string { return s.name }

// Ceiling returns the highest priority of the tasks that declared the resource.
func (s *Shared[T]) Ceiling() Priority { return s.ceiling }

// Init gives direct access to the value while the scheduler is not running: before Run, or
// after it returns.
func (s *Shared[T]) Init(f func(v *T)) {
	if s.owner != nil && s.owner.running.Load() {
		panic(fmt.Sprintf("sched: Init of %q while the scheduler is running", s.name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.value)
}

type task struct {
	Task
	sched    *Scheduler
	level    *level
	declared map[*resource]bool
	pending  atomic.Bool
}

type level struct {
	priority Priority
	ready    chan *task
	tasks    []*task
}

// Handle pends a registered task.
type Handle struct {
	t *task
}

// Pend marks the task ready.  Pending an already-pending task has no further effect beyond
// counting an overrun.  Pend never blocks and may be called from any goroutine.
func (h Handle) Pend() {
	t := h.t
	if !t.pending.CompareAndSwap(false, true) {
		taskOverruns.WithLabelValues(t.Name).Inc()
		return
	}
	select {
	case t.level.ready <- t:
	default:
		// Each task occupies at most one slot, so this can't happen.
		t.pending.Store(false)
		taskOverruns.WithLabelValues(t.Name).Inc()
	}
}

// Name returns the task's name.
func (h Handle) Name() string {
	return h.t.Name
}

// Scheduler owns a set of tasks and the resources they share.
type Scheduler struct {
	started atomic.Bool
	running atomic.Bool

	mu        sync.Mutex
	cond      *sync.Cond
	levels    map[Priority]*level
	names     map[string]bool
	resources []*resource
	held      [256]int // held resources by ceiling; guarded by mu
	active    [256]int // running tasks by base priority; guarded by mu
}

// New returns an empty Scheduler.
func New() *Scheduler {
	s := &Scheduler{
		levels: make(map[Priority]*level),
		names:  make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Add registers a task.  Tasks can only be added before Run.
func (s *Scheduler) Add(t Task) (Handle, error) {
	if s.started.Load() {
		return Handle{}, errors.New("scheduler already started")
	}
	if t.Name == "" {
		return Handle{}, errors.New("task has no name")
	}
	if t.Run == nil {
		return Handle{}, fmt.Errorf("task %q: no Run func", t.Name)
	}
	if t.Every < 0 {
		return Handle{}, fmt.Errorf("task %q: negative period %v", t.Name, t.Every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[t.Name] {
		return Handle{}, fmt.Errorf("task %q: already registered", t.Name)
	}
	lvl, ok := s.levels[t.Priority]
	if !ok {
		lvl = &level{priority: t.Priority, ready: make(chan *task, MaxTasksPerLevel)}
		s.levels[t.Priority] = lvl
	}
	if len(lvl.tasks) >= MaxTasksPerLevel {
		return Handle{}, fmt.Errorf("task %q: priority %d already has %d tasks", t.Name, t.Priority, MaxTasksPerLevel)
	}
	for _, r := range t.Shared {
		if r.base().owner != nil && r.base().owner != s {
			return Handle{}, fmt.Errorf("task %q: resource %q belongs to another scheduler", t.Name, r.base().name)
		}
	}

	tk := &task{Task: t, sched: s, level: lvl, declared: make(map[*resource]bool)}
	for _, r := range t.Shared {
		res := r.base()
		if res.owner == nil {
			res.owner = s
			res.id = len(s.resources)
			s.resources = append(s.resources, res)
		}
		if t.Priority > res.ceiling {
			res.ceiling = t.Priority
		}
		tk.declared[res] = true
	}
	lvl.tasks = append(lvl.tasks, tk)
	s.names[t.Name] = true
	return Handle{t: tk}, nil
}

// ceiling returns the system ceiling, or -1 when no resource is held.  Callers hold mu.
func (s *Scheduler) ceiling() int {
	for p := len(s.held) - 1; p >= 0; p-- {
		if s.held[p] > 0 {
			return p
		}
	}
	return -1
}

// preempted reports whether a task running at priority p would be preempted.  Callers hold mu.
func (s *Scheduler) preempted(p Priority) bool {
	for q := int(p) + 1; q < len(s.active); q++ {
		if s.active[q] > 0 {
			return true
		}
	}
	return false
}

// admit waits until a task at priority p may start, and marks it active.
func (s *Scheduler) admit(ctx context.Context, p Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.ceiling() >= int(p) {
		if ctx.Err() != nil {
			return false
		}
		s.cond.Wait()
	}
	s.active[p]++
	return true
}

func (s *Scheduler) finish(p Priority) {
	s.mu.Lock()
	s.active[p]--
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) dispatch(ctx context.Context, lvl *level) {
	for {
		var t *task
		select {
		case <-ctx.Done():
			return
		case t = <-lvl.ready:
		}
		t.pending.Store(false)
		if !s.admit(ctx, lvl.priority) {
			return
		}
		start := time.Now()
		c := &Context{task: t, priority: t.Priority}
		t.Run(c)
		if len(c.held) > 0 {
			panic(fmt.Sprintf("sched: task %q returned holding %d resources", t.Name, len(c.held)))
		}
		taskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
		taskRuns.WithLabelValues(t.Name).Inc()
		s.finish(lvl.priority)
	}
}

func (s *Scheduler) tick(ctx context.Context, t *task) {
	h := Handle{t: t}
	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Pend()
		}
	}
}

// Run starts the dispatchers and tickers and blocks until the context is cancelled and every
// in-flight task has finished.  A Scheduler can only be run once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	s.running.Store(true)
	defer s.running.Store(false)

	s.mu.Lock()
	levels := make([]*level, 0, len(s.levels))
	for _, lvl := range s.levels {
		levels = append(levels, lvl)
	}
	s.mu.Unlock()
	if len(levels) == 0 {
		return errors.New("no tasks")
	}
	slices.SortFunc(levels, func(a, b *level) bool { return a.priority > b.priority })

	var wg sync.WaitGroup
	for _, lvl := range levels {
		lvl := lvl
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatch(ctx, lvl)
		}()
		for _, t := range lvl.tasks {
			if t.Every == 0 {
				continue
			}
			t := t
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.tick(ctx, t)
			}()
		}
	}

	// Wake dispatchers waiting for admission.
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	wg.Wait()
	return fmt.Errorf("scheduler: %w", ctx.Err())
}

// Context is passed to a running task.  It is only valid for the duration of that run.
type Context struct {
	task     *task
	priority Priority
	held     []*resource
	saved    []Priority
}

// Name returns the running task's name.
func (c *Context) Name() string {
	return c.task.Name
}

// Priority returns the task's current priority, which is raised while it holds resources.
func (c *Context) Priority() Priority {
	return c.priority
}

func (c *Context) acquire(r *resource) {
	if !c.task.declared[r] {
		panic(fmt.Sprintf("sched: task %q locks %q without declaring it", c.task.Name, r.name))
	}
	for _, h := range c.held {
		if h == r {
			panic(fmt.Sprintf("sched: task %q locks %q twice", c.task.Name, r.name))
		}
	}
	if n := len(c.held); n > 0 && c.held[n-1].id > r.id {
		panic(fmt.Sprintf("sched: task %q locks %q while holding %q; lock in registration order", c.task.Name, r.name, c.held[n-1].name))
	}

	s := c.task.sched
	s.mu.Lock()
	for s.preempted(c.priority) {
		s.cond.Wait()
	}
	s.held[r.ceiling]++
	s.mu.Unlock()

	r.mu.Lock()
	c.held = append(c.held, r)
	c.saved = append(c.saved, c.priority)
	if r.ceiling > c.priority {
		c.priority = r.ceiling
	}
}

func (c *Context) release(r *resource) {
	n := len(c.held) - 1
	c.priority = c.saved[n]
	c.held, c.saved = c.held[:n], c.saved[:n]
	r.mu.Unlock()

	s := c.task.sched
	s.mu.Lock()
	s.held[r.ceiling]--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Lock runs f with exclusive access to r's value.
func Lock[T any](c *Context, r *Shared[T], f func(v *T)) {
	c.acquire(&r.resource)
	defer c.release(&r.resource)
	f(&r.value)
}

// Lock2 runs f with exclusive access to both values, acquiring them in registration order.
func Lock2[A, B any](c *Context, a *Shared[A], b *Shared[B], f func(a *A, b *B)) {
	first, second := &a.resource, &b.resource
	if second.id < first.id {
		first, second = second, first
	}
	c.acquire(first)
	defer c.release(first)
	c.acquire(second)
	defer c.release(second)
	f(&a.value, &b.value)
}
