package extraction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omnix-ai/recall-go/pkg/scheduler"
	"github.com/omnix-ai/recall-go/pkg/storage"
	"github.com/omnix-ai/recall-go/pkg/tiered"
)

// Task priorities. Retried tasks are demoted one level per attempt.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Task states.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateRetrying   = "retrying"
	StateAbandoned  = "abandoned"
)

// priorityRank orders tasks for batch selection, highest first.
func priorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// demote lowers a priority one step: high → medium → low.
func demote(p string) string {
	switch p {
	case PriorityHigh:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Task is one unit of extraction work moving through the state machine
// queued → processing → {completed | retrying | abandoned}.
type Task struct {
	ID             int64
	OwnerID        string
	ConversationID string
	Text           string
	Priority       string
	State          string
	Attempts       int
	EnqueuedAt     time.Time
	LastError      string
}

// optimization task kinds, cycled one per optimization tick.
var optimizationKinds = []string{"consolidate", "cleanup", "quality_check"}

type optTask struct {
	kind    string
	ownerID string
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Store receives extracted memories. Required.
	Store *tiered.Store

	// Extractor performs the language-model extraction call. Required.
	Extractor *Extractor

	// Storage is used by the cleanup and quality-check optimization tasks.
	// Required.
	Storage storage.Store

	// SweepInterval is how often queued tasks are processed. Default 30s.
	SweepInterval time.Duration

	// OptimizeInterval is how often one optimization task runs. Default 10m.
	OptimizeInterval time.Duration

	// BatchSize bounds how many tasks one sweep processes. Default 5.
	BatchSize int

	// MaxAttempts bounds retries before a task is abandoned. Default 3.
	MaxAttempts int

	// CleanupFloor is the confidence below which cleanup deletes memories.
	// Default 0.4.
	CleanupFloor float64

	Clock  scheduler.Clock
	Logger *logrus.Logger
}

// Pipeline schedules and executes extraction work. High-priority tasks run
// inline at enqueue time; everything else waits for the periodic sweep.
// Optimization tasks (consolidate, cleanup, quality_check) run on a slower
// interval, one per tick to bound load, and are never retried.
type Pipeline struct {
	store     *tiered.Store
	extractor *Extractor
	storage   storage.Store
	clock     scheduler.Clock
	logger    *logrus.Logger
	sched     *scheduler.Scheduler

	sweepInterval    time.Duration
	optimizeInterval time.Duration
	batchSize        int
	maxAttempts      int
	cleanupFloor     float64

	nextID atomic.Int64

	mu         sync.Mutex
	queue      []*Task
	owners     map[string]time.Time
	optPending []optTask
	optCursor  int
}

// NewPipeline creates a Pipeline from cfg.
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg == nil || cfg.Store == nil || cfg.Extractor == nil || cfg.Storage == nil {
		return nil, errors.New("extraction: store, extractor and storage are required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &Pipeline{
		store:            cfg.Store,
		extractor:        cfg.Extractor,
		storage:          cfg.Storage,
		clock:            clock,
		logger:           logger,
		sched:            scheduler.New(clock, logger),
		sweepInterval:    cfg.SweepInterval,
		optimizeInterval: cfg.OptimizeInterval,
		batchSize:        cfg.BatchSize,
		maxAttempts:      cfg.MaxAttempts,
		cleanupFloor:     cfg.CleanupFloor,
		owners:           make(map[string]time.Time),
	}
	if p.sweepInterval <= 0 {
		p.sweepInterval = 30 * time.Second
	}
	if p.optimizeInterval <= 0 {
		p.optimizeInterval = 10 * time.Minute
	}
	if p.batchSize <= 0 {
		p.batchSize = 5
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.cleanupFloor <= 0 {
		p.cleanupFloor = 0.4
	}
	return p, nil
}

// Start launches the extraction and optimization sweeps.
func (p *Pipeline) Start(ctx context.Context) {
	p.sched.Every(ctx, "extraction", p.sweepInterval, p.Sweep)
	p.sched.Every(ctx, "optimization", p.optimizeInterval, p.OptimizeTick)
}

// Stop cancels the sweeps and waits for in-flight work.
func (p *Pipeline) Stop() {
	p.sched.Stop()
}

// Enqueue queues an extraction task. High-priority tasks are also executed
// inline immediately, independent of the periodic sweep; their failures fall
// back into the retry queue.
func (p *Pipeline) Enqueue(ctx context.Context, ownerID, conversationID, text, priority string) *Task {
	if priority != PriorityHigh && priority != PriorityMedium && priority != PriorityLow {
		priority = PriorityMedium
	}

	task := &Task{
		ID:             p.nextID.Add(1),
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Text:           text,
		Priority:       priority,
		State:          StateQueued,
		EnqueuedAt:     p.clock.Now(),
	}

	p.mu.Lock()
	p.owners[ownerID] = task.EnqueuedAt
	if priority == PriorityHigh {
		task.State = StateProcessing
	} else {
		p.queue = append(p.queue, task)
	}
	p.mu.Unlock()

	if priority == PriorityHigh {
		p.process(ctx, task)
	}
	return task
}

// QueueLen returns the number of tasks waiting for the sweep.
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Sweep processes one batch of queued tasks: up to BatchSize, ordered by
// priority then age, run concurrently.
func (p *Pipeline) Sweep(ctx context.Context) error {
	batch := p.popBatch()
	if len(batch) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, task := range batch {
		wg.Add(1)
		go func(task *Task) {
			defer wg.Done()
			p.process(ctx, task)
		}(task)
	}
	wg.Wait()
	return nil
}

// popBatch removes the next batch from the queue and marks it processing.
func (p *Pipeline) popBatch() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	sort.SliceStable(p.queue, func(i, j int) bool {
		ri, rj := priorityRank(p.queue[i].Priority), priorityRank(p.queue[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return p.queue[i].EnqueuedAt.Before(p.queue[j].EnqueuedAt)
	})

	n := p.batchSize
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := p.queue[:n]
	p.queue = append([]*Task{}, p.queue[n:]...)

	for _, task := range batch {
		task.State = StateProcessing
	}
	return batch
}

// process runs one task to a terminal or retrying state.
func (p *Pipeline) process(ctx context.Context, task *Task) {
	candidates, err := p.extractor.Extract(ctx, task.Text)
	if err != nil {
		p.fail(task, err)
		return
	}

	for _, cand := range candidates {
		_, err := p.store.AddMemory(ctx, &tiered.AddRequest{
			OwnerID:        task.OwnerID,
			ConversationID: task.ConversationID,
			Type:           cand.Type,
			Content:        cand.Content,
			Confidence:     cand.Confidence,
			Importance:     cand.Importance,
			Entities:       cand.Entities,
			Topics:         cand.Topics,
		})
		if err != nil {
			p.logger.WithField("task_id", task.ID).
				Warnf("extraction: dropping invalid candidate: %v", err)
		}
	}
	task.State = StateCompleted
}

// fail applies the retry rule: up to maxAttempts attempts, priority demoted
// one level between attempts, then abandoned.
func (p *Pipeline) fail(task *Task, err error) {
	task.Attempts++
	task.LastError = err.Error()

	if task.Attempts >= p.maxAttempts {
		task.State = StateAbandoned
		p.logger.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"owner_id": task.OwnerID,
			"attempts": task.Attempts,
		}).Warnf("extraction: task abandoned: %v", err)
		return
	}

	task.State = StateRetrying
	task.Priority = demote(task.Priority)

	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.mu.Unlock()
}

// OptimizeTick runs at most one optimization task. The pending list is
// refilled by cycling through task kinds across every known owner; failures
// are logged and discarded without retry so the backlog stays bounded.
func (p *Pipeline) OptimizeTick(ctx context.Context) error {
	task, ok := p.nextOptimization()
	if !ok {
		return nil
	}

	var err error
	switch task.kind {
	case "consolidate":
		_, err = p.store.Consolidate(ctx, task.ownerID)
	case "cleanup":
		err = p.cleanup(ctx, task.ownerID)
	case "quality_check":
		err = p.qualityCheck(ctx, task.ownerID)
	}
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"kind":     task.kind,
			"owner_id": task.ownerID,
		}).Warnf("extraction: optimization task failed: %v", err)
	}
	return nil
}

func (p *Pipeline) nextOptimization() (optTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.optPending) == 0 {
		kind := optimizationKinds[p.optCursor%len(optimizationKinds)]
		p.optCursor++
		for ownerID := range p.owners {
			p.optPending = append(p.optPending, optTask{kind: kind, ownerID: ownerID})
		}
	}
	if len(p.optPending) == 0 {
		return optTask{}, false
	}

	task := p.optPending[0]
	p.optPending = p.optPending[1:]
	return task, true
}

// cleanup removes an owner's memories below the confidence floor.
func (p *Pipeline) cleanup(ctx context.Context, ownerID string) error {
	recs, err := p.storage.ListMemories(ctx, &storage.ListOptions{OwnerID: ownerID})
	if err != nil {
		return err
	}

	var stale []int64
	for _, rec := range recs {
		if rec.Confidence < p.cleanupFloor {
			stale = append(stale, rec.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := p.storage.DeleteMemories(ctx, stale); err != nil {
		return err
	}
	p.logger.WithField("owner_id", ownerID).
		Infof("extraction: cleanup removed %d low-confidence memories", len(stale))
	return nil
}

// qualityCheck caps the confidence of hedging-language memories. Caps are
// idempotent, so repeated checks never drift a record's confidence further.
func (p *Pipeline) qualityCheck(ctx context.Context, ownerID string) error {
	recs, err := p.storage.ListMemories(ctx, &storage.ListOptions{OwnerID: ownerID})
	if err != nil {
		return err
	}

	rewritten := 0
	for _, rec := range recs {
		capped := QualityCeiling(rec.Content)
		if rec.Confidence <= capped {
			continue
		}
		rec.Confidence = capped
		if err := p.storage.DeleteMemories(ctx, []int64{rec.ID}); err != nil {
			return err
		}
		if err := p.storage.InsertMemory(ctx, rec); err != nil {
			return err
		}
		rewritten++
	}
	if rewritten > 0 {
		p.logger.WithField("owner_id", ownerID).
			Debugf("extraction: quality check rewrote %d memories", rewritten)
	}
	return nil
}
