package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/channel"
	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/internal/queue"
	"beacon/pkg/models"
)

// scriptedAdapter returns canned results in order, one per Deliver call.
type scriptedAdapter struct {
	channelType channel.Type
	results     []channel.Result
	calls       int
}

func (a *scriptedAdapter) Type() channel.Type { return a.channelType }

func (a *scriptedAdapter) Deliver(ctx context.Context, event models.NotificationEvent, target channel.Target) channel.Result {
	if a.calls >= len(a.results) {
		return channel.Result{Status: channel.StatusPermanentFailure, Detail: "no scripted result"}
	}
	result := a.results[a.calls]
	a.calls++
	return result
}

func deliveryItem(plan ...channel.Target) *queue.Item {
	return &queue.Item{
		ID:       "item-1",
		RecordID: "rec-1",
		Event: models.NotificationEvent{
			EventType:   models.EventJobAssigned,
			EntityID:    "job-1",
			RecipientID: "staff-1",
			SourceID:    "scheduler",
			Priority:    models.PriorityHigh,
		},
		Plan:    plan,
		Attempt: 1,
	}
}

func newTestPool(t *testing.T, adapters []channel.Adapter, results chan Result) *Pool {
	t.Helper()
	manager := queue.NewManager(config.QueueConfig{}, logger.NopLogger())
	t.Cleanup(manager.Stop)

	return NewPool(
		manager,
		adapters,
		config.QueueConfig{},
		config.ChannelsConfig{DeliveryTimeoutSeconds: 1},
		config.CircuitBreakerConfig{},
		nil,
		results,
		logger.NopLogger(),
	)
}

func collectResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(time.Second):
		t.Fatal("no delivery result emitted")
		return Result{}
	}
}

func TestProcess_SentStopsPlanWalk(t *testing.T) {
	push := &scriptedAdapter{channelType: channel.TypePush, results: []channel.Result{{Status: channel.StatusSent}}}
	realtime := &scriptedAdapter{channelType: channel.TypeRealtime}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{push, realtime}, results)

	pool.process(deliveryItem(
		channel.Target{Type: channel.TypePush},
		channel.Target{Type: channel.TypeRealtime},
	))

	result := collectResult(t, results)
	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, channel.TypePush, result.Channel)
	assert.Equal(t, 0, realtime.calls)
}

func TestProcess_UnavailableFallsThroughToNextChannel(t *testing.T) {
	push := &scriptedAdapter{
		channelType: channel.TypePush,
		results:     []channel.Result{{Status: channel.StatusUnavailable, Detail: "no device token"}},
	}
	realtime := &scriptedAdapter{channelType: channel.TypeRealtime, results: []channel.Result{{Status: channel.StatusSent}}}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{push, realtime}, results)

	pool.process(deliveryItem(
		channel.Target{Type: channel.TypePush},
		channel.Target{Type: channel.TypeRealtime},
	))

	result := collectResult(t, results)
	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, channel.TypeRealtime, result.Channel)
	assert.Equal(t, 1, push.calls)
}

func TestProcess_TransientFailureEndsAttempt(t *testing.T) {
	push := &scriptedAdapter{
		channelType: channel.TypePush,
		results:     []channel.Result{{Status: channel.StatusTransientFailure, Detail: "gateway 503"}},
	}
	realtime := &scriptedAdapter{channelType: channel.TypeRealtime}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{push, realtime}, results)

	pool.process(deliveryItem(
		channel.Target{Type: channel.TypePush},
		channel.Target{Type: channel.TypeRealtime},
	))

	result := collectResult(t, results)
	assert.Equal(t, OutcomeTransient, result.Outcome)
	assert.Equal(t, channel.TypePush, result.Channel)
	// The rest of the plan is not consulted on a transient failure.
	assert.Equal(t, 0, realtime.calls)
}

func TestProcess_PermanentFailureEndsAttempt(t *testing.T) {
	push := &scriptedAdapter{
		channelType: channel.TypePush,
		results:     []channel.Result{{Status: channel.StatusPermanentFailure, Detail: "rejected payload"}},
	}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{push}, results)

	pool.process(deliveryItem(channel.Target{Type: channel.TypePush}))

	result := collectResult(t, results)
	assert.Equal(t, OutcomePermanent, result.Outcome)
}

func TestProcess_AllUnavailableIsTransient(t *testing.T) {
	push := &scriptedAdapter{
		channelType: channel.TypePush,
		results:     []channel.Result{{Status: channel.StatusUnavailable, Detail: "no device token"}},
	}
	realtime := &scriptedAdapter{
		channelType: channel.TypeRealtime,
		results:     []channel.Result{{Status: channel.StatusUnavailable, Detail: "broker down"}},
	}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{push, realtime}, results)

	pool.process(deliveryItem(
		channel.Target{Type: channel.TypePush},
		channel.Target{Type: channel.TypeRealtime},
	))

	result := collectResult(t, results)
	assert.Equal(t, OutcomeTransient, result.Outcome)
	assert.Empty(t, result.Channel)
	assert.Contains(t, result.Detail, "no channel available")
}

func TestProcess_EmptyPlanIsTransient(t *testing.T) {
	results := make(chan Result, 1)
	pool := newTestPool(t, nil, results)

	pool.process(deliveryItem())

	result := collectResult(t, results)
	assert.Equal(t, OutcomeTransient, result.Outcome)
}

func TestProcess_MissingAdapterCountsAsUnavailable(t *testing.T) {
	realtime := &scriptedAdapter{channelType: channel.TypeRealtime, results: []channel.Result{{Status: channel.StatusSent}}}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{realtime}, results)

	pool.process(deliveryItem(
		channel.Target{Type: channel.TypeWebhook},
		channel.Target{Type: channel.TypeRealtime},
	))

	result := collectResult(t, results)
	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, channel.TypeRealtime, result.Channel)
}

func TestProcess_AdmitRunsBeforeDelivery(t *testing.T) {
	var admitted []string
	push := &scriptedAdapter{channelType: channel.TypePush, results: []channel.Result{{Status: channel.StatusSent}}}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{push}, results)
	pool.admit = func(ctx context.Context, item *queue.Item) bool {
		admitted = append(admitted, item.RecordID)
		return true
	}

	pool.process(deliveryItem(channel.Target{Type: channel.TypePush}))

	require.Equal(t, []string{"rec-1"}, admitted)
	assert.Equal(t, 1, push.calls)
}

func TestProcess_AdmitRefusalSkipsDelivery(t *testing.T) {
	push := &scriptedAdapter{channelType: channel.TypePush, results: []channel.Result{{Status: channel.StatusSent}}}
	results := make(chan Result, 1)
	pool := newTestPool(t, []channel.Adapter{push}, results)
	pool.admit = func(ctx context.Context, item *queue.Item) bool {
		return false
	}

	pool.process(deliveryItem(channel.Target{Type: channel.TypePush}))

	assert.Equal(t, 0, push.calls)
	select {
	case result := <-results:
		t.Fatalf("unexpected result emitted: %+v", result)
	default:
	}
}
