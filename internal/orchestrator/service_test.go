package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/channel"
	"beacon/internal/config"
	"beacon/internal/dedup"
	"beacon/internal/delivery"
	"beacon/internal/logger"
	"beacon/internal/queue"
	"beacon/internal/ratelimit"
	"beacon/internal/records"
	apperrors "beacon/pkg/errors"
	"beacon/pkg/models"
)

type fakeDeduper struct {
	reservation dedup.Reservation
	err         error
	lastRecord  string
}

func (f *fakeDeduper) CheckAndReserve(ctx context.Context, event models.NotificationEvent, fingerprint, contentHash, recordID string) (dedup.Reservation, error) {
	f.lastRecord = recordID
	if f.err != nil {
		return dedup.Reservation{}, f.err
	}
	if f.reservation.Duplicate {
		return f.reservation, nil
	}
	return dedup.Reservation{RecordID: recordID}, nil
}

type fakeLimiter struct {
	mu        sync.Mutex
	calls     int
	decisions []ratelimit.Decision
	decision  ratelimit.Decision
}

func (f *fakeLimiter) TryConsume(ctx context.Context, recipientID, eventType string, priority models.Priority) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.decisions) > 0 {
		decision := f.decisions[0]
		f.decisions = f.decisions[1:]
		return decision, nil
	}
	return f.decision, nil
}

func (f *fakeLimiter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRouter struct {
	plan []channel.Target
}

func (f *fakeRouter) ResolveChannels(ctx context.Context, event models.NotificationEvent) ([]channel.Target, error) {
	return f.plan, nil
}

type fakeRecordsRepo struct {
	mu      sync.Mutex
	records map[string]*records.Record
}

func newFakeRecordsRepo() *fakeRecordsRepo {
	return &fakeRecordsRepo{records: make(map[string]*records.Record)}
}

func (f *fakeRecordsRepo) Insert(ctx context.Context, record *records.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *record
	f.records[record.ID] = &clone
	return nil
}

func (f *fakeRecordsRepo) Get(ctx context.Context, id string) (*records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (f *fakeRecordsRepo) MarkIfNotTerminal(ctx context.Context, id string, update records.Update) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok || record.Status.IsTerminal() {
		return false, nil
	}

	record.Status = update.Status
	if update.Attempts != nil {
		record.Attempts = *update.Attempts
	}
	if update.AppendAttempt != nil {
		record.History = append(record.History, *update.AppendAttempt)
	}
	if update.DeliveredChannel != "" {
		record.DeliveredChannel = update.DeliveredChannel
	}
	if update.DeadLetterReason != "" {
		record.DeadLetterReason = update.DeadLetterReason
	}
	if update.NextRetryAt != nil {
		record.NextRetryAt = update.NextRetryAt
	}
	if update.ClearNextRetry {
		record.NextRetryAt = nil
	}
	return true, nil
}

func (f *fakeRecordsRepo) ListByStatus(ctx context.Context, status records.Status, limit int64) ([]records.Record, error) {
	return nil, nil
}

func (f *fakeRecordsRepo) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRecordsRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (f *fakeRecordsRepo) get(id string) *records.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeRecordsRepo) only() *records.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		return record
	}
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, topic)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type testEngine struct {
	svc     *Service
	deduper *fakeDeduper
	limiter *fakeLimiter
	repo    *fakeRecordsRepo
	manager *queue.Manager
	dlq     *fakePublisher
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	deduper := &fakeDeduper{}
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: true}}
	router := &fakeRouter{plan: []channel.Target{{Type: channel.TypePush}}}
	repo := newFakeRecordsRepo()
	dlq := &fakePublisher{}
	manager := queue.NewManager(config.QueueConfig{ImmediateBuffer: 16, BatchBuffer: 16}, logger.NopLogger())
	t.Cleanup(manager.Stop)

	retryCfg := config.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
	}

	svc := NewService(
		dedup.NewHasher("sha256"),
		deduper,
		limiter,
		router,
		manager,
		repo,
		dlq,
		retryCfg,
		"notification_dlq",
		logger.NopLogger(),
	)

	return &testEngine{svc: svc, deduper: deduper, limiter: limiter, repo: repo, manager: manager, dlq: dlq}
}

func submitEvent(priority models.Priority) models.NotificationEvent {
	return models.NotificationEvent{
		EventType:   models.EventJobAssigned,
		EntityID:    "job-1",
		RecipientID: "staff-1",
		SourceID:    "scheduler",
		Priority:    priority,
		Payload:     models.Payload{Title: "t", Body: "b"},
	}
}

func TestSubmit_AcceptedEnqueuesAndPersists(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)

	assert.NotEmpty(t, result.RecordID)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Deferred)

	record := engine.repo.get(result.RecordID)
	require.NotNil(t, record)
	assert.Equal(t, records.StatusQueued, record.Status)
	assert.NotEmpty(t, record.Fingerprint)

	immediate, _, _ := engine.manager.Depths()
	assert.Equal(t, 1, immediate)
}

func TestSubmit_NormalPriorityGoesToBatchQueue(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityNormal), "http")
	require.NoError(t, err)

	immediate, batch, _ := engine.manager.Depths()
	assert.Equal(t, 0, immediate)
	assert.Equal(t, 1, batch)
}

func TestSubmit_EmptyPriorityDefaultsToNormal(t *testing.T) {
	engine := newTestEngine(t)

	event := submitEvent("")
	result, err := engine.svc.Submit(context.Background(), event, "http")
	require.NoError(t, err)

	record := engine.repo.get(result.RecordID)
	require.NotNil(t, record)
	assert.Equal(t, models.PriorityNormal, record.Event.Priority)
}

func TestSubmit_InvalidPriorityRejected(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.svc.Submit(context.Background(), submitEvent("critical"), "http")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSubmit_MissingFieldsRejected(t *testing.T) {
	engine := newTestEngine(t)

	event := submitEvent(models.PriorityNormal)
	event.RecipientID = ""

	_, err := engine.svc.Submit(context.Background(), event, "http")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSubmit_DuplicateReturnsOriginalRecord(t *testing.T) {
	engine := newTestEngine(t)
	engine.deduper.reservation = dedup.Reservation{
		Duplicate:         true,
		RecordID:          "original-record",
		DuplicatesBlocked: 3,
	}

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)

	assert.True(t, result.Duplicate)
	assert.Equal(t, "original-record", result.RecordID)
	assert.Equal(t, int64(3), result.DuplicatesBlocked)

	// Nothing reaches the queues for a duplicate.
	immediate, batch, retry := engine.manager.Depths()
	assert.Equal(t, 0, immediate+batch+retry)

	// The blocked submission still leaves a queryable trail.
	record := engine.repo.get(engine.deduper.lastRecord)
	require.NotNil(t, record)
	assert.Equal(t, records.StatusDuplicate, record.Status)
	assert.Equal(t, "original-record", record.DuplicateOf)
}

func TestSubmit_RateLimitedDefersWithoutConsumingAttempt(t *testing.T) {
	engine := newTestEngine(t)
	engine.limiter.decision = ratelimit.Decision{
		Allowed:    false,
		Scope:      "recipient",
		Window:     "minute",
		RetryAfter: 30 * time.Second,
	}

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)

	assert.True(t, result.Deferred)
	assert.Equal(t, 30*time.Second, result.RetryAfter)

	record := engine.repo.get(result.RecordID)
	require.NotNil(t, record)
	assert.Equal(t, records.StatusRetryScheduled, record.Status)
	require.NotNil(t, record.NextRetryAt)

	_, _, retry := engine.manager.Depths()
	assert.Equal(t, 1, retry)
}

func drainItem(t *testing.T, manager *queue.Manager) *queue.Item {
	t.Helper()
	select {
	case item := <-manager.Immediate():
		return item
	case item := <-manager.Batch():
		return item
	case <-time.After(time.Second):
		t.Fatal("no item enqueued")
		return nil
	}
}

func TestHandleOutcome_SentMarksRecord(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)

	engine.svc.handleOutcome(context.Background(), delivery.Result{
		Item:    item,
		Outcome: delivery.OutcomeSent,
		Channel: channel.TypePush,
	})

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusSent, record.Status)
	assert.Equal(t, "push", record.DeliveredChannel)
	assert.Equal(t, 1, record.Attempts)
	require.Len(t, record.History, 1)
	assert.Equal(t, "sent", record.History[0].Status)
}

func TestHandleOutcome_TransientSchedulesRetry(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine.svc.WithClock(func() time.Time { return now })

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)

	engine.svc.handleOutcome(context.Background(), delivery.Result{
		Item:    item,
		Outcome: delivery.OutcomeTransient,
		Channel: channel.TypePush,
		Detail:  "gateway 503",
	})

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusRetryScheduled, record.Status)
	require.NotNil(t, record.NextRetryAt)
	// First retry waits the initial interval.
	assert.Equal(t, now.Add(time.Second), record.NextRetryAt.UTC())

	assert.Equal(t, 2, item.Attempt)
	_, _, retry := engine.manager.Depths()
	assert.Equal(t, 1, retry)
}

func TestHandleOutcome_RetryDelaysGrowMonotonically(t *testing.T) {
	engine := newTestEngine(t)
	engine.svc.retryCfg.MaxAttempts = 10
	engine.svc.retryCfg.JitterFraction = 0.2
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	engine.svc.WithClock(func() time.Time { return now })

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		engine.svc.handleOutcome(context.Background(), delivery.Result{
			Item:    item,
			Outcome: delivery.OutcomeTransient,
			Channel: channel.TypePush,
		})
		record := engine.repo.get(result.RecordID)
		require.NotNil(t, record.NextRetryAt)
		delays = append(delays, record.NextRetryAt.Sub(now))
	}

	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1], "delay %d should exceed delay %d", i, i-1)
	}
}

func TestHandleOutcome_MaxAttemptsDeadLetters(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)
	item.Attempt = 3 // at the configured ceiling

	engine.svc.handleOutcome(context.Background(), delivery.Result{
		Item:    item,
		Outcome: delivery.OutcomeTransient,
		Channel: channel.TypePush,
		Detail:  "still down",
	})

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusDeadLetter, record.Status)
	assert.Equal(t, reasonMaxAttempts, record.DeadLetterReason)
	assert.Equal(t, 1, engine.dlq.count())

	_, _, retry := engine.manager.Depths()
	assert.Equal(t, 0, retry)
}

func TestHandleOutcome_PermanentDeadLettersImmediately(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)

	engine.svc.handleOutcome(context.Background(), delivery.Result{
		Item:    item,
		Outcome: delivery.OutcomePermanent,
		Channel: channel.TypePush,
		Detail:  "rejected payload",
	})

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusDeadLetter, record.Status)
	assert.Equal(t, reasonPermanent, record.DeadLetterReason)
	assert.Equal(t, 1, engine.dlq.count())
}

func TestHandleOutcome_LateResultCannotResurrectTerminalRecord(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)

	engine.svc.handleOutcome(context.Background(), delivery.Result{
		Item:    item,
		Outcome: delivery.OutcomeSent,
		Channel: channel.TypePush,
	})

	// A straggling transient outcome for the same item must be ignored.
	engine.svc.handleOutcome(context.Background(), delivery.Result{
		Item:    item,
		Outcome: delivery.OutcomeTransient,
		Channel: channel.TypeRealtime,
	})

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusSent, record.Status)
	_, _, retry := engine.manager.Depths()
	assert.Equal(t, 0, retry)
}

func TestAdmitForDelivery_MarksInFlight(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)

	assert.True(t, engine.svc.AdmitForDelivery(context.Background(), item))

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusInFlight, record.Status)
	// An item that already consumed quota at admission is not re-checked.
	assert.Equal(t, 1, engine.limiter.callCount())
}

func TestAdmitForDelivery_DeferredItemConsumesQuotaOnRelease(t *testing.T) {
	engine := newTestEngine(t)
	engine.limiter.decisions = []ratelimit.Decision{
		{Allowed: false, Scope: "recipient", Window: "minute", RetryAfter: 20 * time.Millisecond},
		{Allowed: true},
	}

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	require.True(t, result.Deferred)
	require.Equal(t, 1, engine.limiter.callCount())

	item := drainItem(t, engine.manager)
	require.True(t, item.AwaitingQuota)

	assert.True(t, engine.svc.AdmitForDelivery(context.Background(), item))

	// The deferred item passed the limiter again before delivery.
	assert.Equal(t, 2, engine.limiter.callCount())
	assert.False(t, item.AwaitingQuota)

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusInFlight, record.Status)
}

func TestAdmitForDelivery_StillLimitedReParksWithoutAttempt(t *testing.T) {
	engine := newTestEngine(t)
	engine.limiter.decisions = []ratelimit.Decision{
		{Allowed: false, Scope: "recipient", Window: "minute", RetryAfter: 20 * time.Millisecond},
		{Allowed: false, Scope: "recipient", Window: "minute", RetryAfter: 30 * time.Second},
	}

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	require.True(t, result.Deferred)

	item := drainItem(t, engine.manager)
	require.True(t, item.AwaitingQuota)

	assert.False(t, engine.svc.AdmitForDelivery(context.Background(), item))

	assert.True(t, item.AwaitingQuota)
	assert.Equal(t, 1, item.Attempt)

	record := engine.repo.get(result.RecordID)
	assert.Equal(t, records.StatusRetryScheduled, record.Status)
	require.NotNil(t, record.NextRetryAt)

	_, _, retry := engine.manager.Depths()
	assert.Equal(t, 1, retry)
}

func TestRunOutcomes_ConsumesUntilContextDone(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.svc.Submit(context.Background(), submitEvent(models.PriorityHigh), "http")
	require.NoError(t, err)
	item := drainItem(t, engine.manager)

	results := make(chan delivery.Result, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		engine.svc.RunOutcomes(ctx, results)
		close(done)
	}()

	results <- delivery.Result{Item: item, Outcome: delivery.OutcomeSent, Channel: channel.TypePush}

	require.Eventually(t, func() bool {
		record := engine.repo.get(result.RecordID)
		return record.Status == records.StatusSent
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("outcome loop did not stop on context cancel")
	}
}
