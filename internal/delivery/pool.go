package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beacon/internal/channel"
	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/internal/queue"
	"beacon/pkg/circuitbreaker"
	"beacon/pkg/logging"
	"beacon/pkg/metrics"
)

// AdmitFunc is called before an item's plan walk begins. It marks the
// durable record in flight and re-checks rate-limit quota for items that
// were parked before consuming any; returning false means the item was
// re-parked and must not be delivered now.
type AdmitFunc func(ctx context.Context, item *queue.Item) bool

// Pool runs the delivery workers. Immediate workers take items one at a
// time; batch workers drain the batch queue in interval-bounded groups.
// Every outcome goes to the results channel; the pool never touches queue
// state beyond consuming items.
type Pool struct {
	manager  *queue.Manager
	adapters map[channel.Type]channel.Adapter
	breakers map[channel.Type]*circuitbreaker.Wrapper
	results  chan<- Result

	admit   AdmitFunc
	timeout time.Duration
	cfg     config.QueueConfig
	logger  logger.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

func NewPool(
	manager *queue.Manager,
	adapters []channel.Adapter,
	cfg config.QueueConfig,
	channelsCfg config.ChannelsConfig,
	cbCfg config.CircuitBreakerConfig,
	admit AdmitFunc,
	results chan<- Result,
	log logger.Logger,
) *Pool {
	timeout := time.Duration(channelsCfg.DeliveryTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultDeliveryTimeout
	}

	adapterMap := make(map[channel.Type]channel.Adapter, len(adapters))
	breakers := make(map[channel.Type]*circuitbreaker.Wrapper, len(adapters))
	for _, adapter := range adapters {
		adapterMap[adapter.Type()] = adapter
		if cbCfg.Enabled {
			breakers[adapter.Type()] = circuitbreaker.NewWrapper(
				circuitbreaker.DefaultConfig("channel-" + string(adapter.Type())),
			)
		}
	}

	return &Pool{
		manager:  manager,
		adapters: adapterMap,
		breakers: breakers,
		results:  results,
		admit:    admit,
		timeout:  timeout,
		cfg:      cfg,
		logger:   log,
		stop:     make(chan struct{}),
	}
}

func (p *Pool) Start() {
	immediateWorkers := p.cfg.ImmediateWorkers
	if immediateWorkers <= 0 {
		immediateWorkers = 4
	}
	batchWorkers := p.cfg.BatchWorkers
	if batchWorkers <= 0 {
		batchWorkers = 2
	}

	for i := 0; i < immediateWorkers; i++ {
		p.wg.Add(1)
		go p.runImmediateWorker()
	}

	batchWork := make(chan *queue.Item)
	p.wg.Add(1)
	go p.runBatchDispatcher(batchWork)
	for i := 0; i < batchWorkers; i++ {
		p.wg.Add(1)
		go p.runBatchWorker(batchWork)
	}
}

// Stop signals all workers and waits for in-flight deliveries to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}

func (p *Pool) runImmediateWorker() {
	defer p.wg.Done()

	for {
		select {
		case item := <-p.manager.Immediate():
			p.process(item)
		case <-p.stop:
			return
		}
	}
}

// runBatchDispatcher groups batch items so low-priority work moves in
// bursts instead of waking a worker per item.
func (p *Pool) runBatchDispatcher(out chan<- *queue.Item) {
	defer p.wg.Done()
	defer close(out)

	interval := p.cfg.BatchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []*queue.Item
	flush := func() {
		for _, item := range pending {
			select {
			case out <- item:
			case <-p.stop:
				return
			}
		}
		pending = pending[:0]
	}

	for {
		select {
		case item := <-p.manager.Batch():
			pending = append(pending, item)
			if len(pending) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) runBatchWorker(in <-chan *queue.Item) {
	defer p.wg.Done()

	for {
		select {
		case item, ok := <-in:
			if !ok {
				return
			}
			p.process(item)
		case <-p.stop:
			return
		}
	}
}

// process walks the item's channel plan. The first sent stops the walk; an
// unavailable channel falls through to the next one on the same attempt; a
// transient or permanent failure ends the attempt. A walk where every
// channel was unavailable counts as transient so the item gets retried once
// a channel comes back.
func (p *Pool) process(item *queue.Item) {
	ctx := logging.WithRecordID(context.Background(), item.RecordID)
	ctx = logging.WithFingerprint(ctx, item.Fingerprint)

	if p.admit != nil && !p.admit(ctx, item) {
		return
	}

	var lastDetail string
	for _, target := range item.Plan {
		result := p.deliverOne(ctx, item, target)

		switch result.Status {
		case channel.StatusSent:
			p.emit(Result{Item: item, Outcome: OutcomeSent, Channel: target.Type, Detail: result.Detail})
			return
		case channel.StatusUnavailable:
			lastDetail = result.Detail
			p.logger.DebugwCtx(ctx, "Channel unavailable, trying next in plan",
				"channel", target.Type,
				"detail", result.Detail,
			)
			continue
		case channel.StatusTransientFailure:
			p.emit(Result{Item: item, Outcome: OutcomeTransient, Channel: target.Type, Detail: result.Detail})
			return
		case channel.StatusPermanentFailure:
			p.emit(Result{Item: item, Outcome: OutcomePermanent, Channel: target.Type, Detail: result.Detail})
			return
		}
	}

	if lastDetail == "" {
		lastDetail = "delivery plan is empty"
	}
	p.emit(Result{Item: item, Outcome: OutcomeTransient, Detail: fmt.Sprintf("no channel available: %s", lastDetail)})
}

func (p *Pool) deliverOne(ctx context.Context, item *queue.Item, target channel.Target) channel.Result {
	adapter, ok := p.adapters[target.Type]
	if !ok {
		return channel.Result{Status: channel.StatusUnavailable, Detail: fmt.Sprintf("no adapter for channel %s", target.Type)}
	}

	deliverCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result := p.withBreaker(deliverCtx, target.Type, func() channel.Result {
		return adapter.Deliver(deliverCtx, item.Event, target)
	})
	metrics.ObserveDeliveryDuration(string(target.Type), time.Since(start))
	metrics.DeliveriesTotal.WithLabelValues(string(target.Type), string(result.Status)).Inc()

	return result
}

// withBreaker runs the delivery through the channel's circuit breaker. An
// open breaker reads as the channel being unavailable, so the plan walk
// moves on instead of burning the attempt.
func (p *Pool) withBreaker(ctx context.Context, ch channel.Type, deliver func() channel.Result) channel.Result {
	cb, ok := p.breakers[ch]
	if !ok {
		return deliver()
	}

	raw, err := cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		result := deliver()
		if result.Status == channel.StatusTransientFailure {
			return result, fmt.Errorf("transient failure on %s: %s", ch, result.Detail)
		}
		return result, nil
	})

	cb.RecordRequest(err == nil)

	if err != nil {
		if cb.IsOpen() {
			return channel.Result{Status: channel.StatusUnavailable, Detail: fmt.Sprintf("circuit breaker open for %s", ch)}
		}
		if result, ok := raw.(channel.Result); ok {
			return result
		}
		return channel.Result{Status: channel.StatusTransientFailure, Detail: err.Error()}
	}

	result, ok := raw.(channel.Result)
	if !ok {
		return channel.Result{Status: channel.StatusTransientFailure, Detail: "adapter returned invalid result type"}
	}
	return result
}

func (p *Pool) emit(result Result) {
	select {
	case p.results <- result:
	case <-p.stop:
	}
}
