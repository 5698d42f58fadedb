package queue

import (
	"container/heap"
	"sync"
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/metrics"
)

// Manager owns the three logical queues. Immediate and batch are buffered
// channels drained by the delivery worker pools; retry is a min-heap ordered
// by due time, drained by a scheduler goroutine that re-enqueues each item
// into immediate or batch according to its priority.
type Manager struct {
	immediate chan *Item
	batch     chan *Item

	mu        sync.Mutex
	retryHeap retryHeap
	wake      chan struct{}

	logger logger.Logger
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(cfg config.QueueConfig, log logger.Logger) *Manager {
	immediateBuffer := cfg.ImmediateBuffer
	if immediateBuffer <= 0 {
		immediateBuffer = 1024
	}
	batchBuffer := cfg.BatchBuffer
	if batchBuffer <= 0 {
		batchBuffer = 4096
	}

	m := &Manager{
		immediate: make(chan *Item, immediateBuffer),
		batch:     make(chan *Item, batchBuffer),
		wake:      make(chan struct{}, 1),
		logger:    log,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	heap.Init(&m.retryHeap)

	go m.runScheduler()

	return m
}

// WithClock replaces the time source, for deterministic tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Enqueue routes the item by its event priority. Blocks when the target
// queue is full, which backpressures admission rather than dropping work.
func (m *Manager) Enqueue(item *Item) {
	item.EnqueuedAt = m.now()
	if item.Event.Priority.IsImmediate() {
		m.immediate <- item
		metrics.QueueItemsTotal.WithLabelValues(NameImmediate).Inc()
	} else {
		m.batch <- item
		metrics.QueueItemsTotal.WithLabelValues(NameBatch).Inc()
	}
	m.updateDepths()
}

// ScheduleRetry parks the item until NotBefore, then re-enqueues it.
func (m *Manager) ScheduleRetry(item *Item, notBefore time.Time) {
	item.NotBefore = notBefore

	m.mu.Lock()
	heap.Push(&m.retryHeap, item)
	depth := m.retryHeap.Len()
	m.mu.Unlock()

	metrics.QueueItemsTotal.WithLabelValues(NameRetry).Inc()
	metrics.SetQueueDepth(NameRetry, depth)

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Immediate returns the channel the immediate worker pool drains.
func (m *Manager) Immediate() <-chan *Item {
	return m.immediate
}

// Batch returns the channel the batch worker pool drains.
func (m *Manager) Batch() <-chan *Item {
	return m.batch
}

// Depths reports the current size of each logical queue.
func (m *Manager) Depths() (immediate, batch, retry int) {
	m.mu.Lock()
	retry = m.retryHeap.Len()
	m.mu.Unlock()
	return len(m.immediate), len(m.batch), retry
}

// Stop shuts down the retry scheduler. Items still parked in the retry heap
// are lost from memory; their records remain in retry_scheduled state and
// surface through the operational API.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *Manager) runScheduler() {
	defer close(m.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next := m.releaseDue()

		wait := time.Hour
		if !next.IsZero() {
			wait = next.Sub(m.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-m.wake:
		case <-m.stop:
			return
		}
	}
}

// releaseDue re-enqueues every item whose due time has passed and returns
// the due time of the earliest remaining item, zero when the heap is empty.
func (m *Manager) releaseDue() time.Time {
	now := m.now()

	var due []*Item
	m.mu.Lock()
	for m.retryHeap.Len() > 0 && !m.retryHeap[0].NotBefore.After(now) {
		due = append(due, heap.Pop(&m.retryHeap).(*Item))
	}
	var next time.Time
	if m.retryHeap.Len() > 0 {
		next = m.retryHeap[0].NotBefore
	}
	m.mu.Unlock()

	for _, item := range due {
		item.NotBefore = time.Time{}
		m.logger.Debugw("Releasing retry item",
			"record_id", item.RecordID,
			"attempt", item.Attempt,
		)
		m.Enqueue(item)
	}
	if len(due) > 0 {
		m.updateDepths()
	}

	return next
}

func (m *Manager) updateDepths() {
	immediate, batch, retry := m.Depths()
	metrics.SetQueueDepth(NameImmediate, immediate)
	metrics.SetQueueDepth(NameBatch, batch)
	metrics.SetQueueDepth(NameRetry, retry)
}
