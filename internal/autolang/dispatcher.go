package autolang

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize  = 256
	defaultRetryDelay = 5 * time.Second
)

// Dispatcher routes decoded feed messages to alert variants and feeds a
// bounded FIFO queue drained by a single consumer goroutine. The feed
// transport's read loop only ever calls HandleMessage, which decodes and
// enqueues without doing any network work.
type Dispatcher struct {
	manager    *Manager
	queue      chan Alert
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher builds a dispatcher over the given engine.
func NewDispatcher(manager *Manager) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		manager:    manager,
		queue:      make(chan Alert, defaultQueueSize),
		retryDelay: defaultRetryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the consumer goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.consume()
}

// Stop cancels in-flight processing, stops draining the queue and joins the
// consumer goroutine.
func (d *Dispatcher) Stop() {
	d.once.Do(d.cancel)
	d.wg.Wait()
}

// HandleMessage decodes one raw feed message and enqueues an alert per inner
// entry. Variants whose trigger is disabled are dropped here. Safe to call
// from the transport's read loop; a full queue drops the entry rather than
// block.
func (d *Dispatcher) HandleMessage(raw []byte) {
	alerts, errs := decodeAlerts(raw)
	for _, err := range errs {
		log.Error().Err(err).Msg("Dropping undecodable alert entry")
	}
	for _, alert := range alerts {
		if !d.triggerEnabled(alert.Kind()) {
			continue
		}
		select {
		case d.queue <- alert:
		default:
			log.Warn().Str("kind", alert.Kind()).Msg("Alert queue full, dropping entry")
		}
	}
}

func (d *Dispatcher) triggerEnabled(kind string) bool {
	switch kind {
	case "playing":
		return d.manager.opts.TriggerOnPlay
	case "activity":
		return d.manager.opts.TriggerOnActivity
	case "timeline", "status":
		return d.manager.opts.TriggerOnScan
	default:
		return false
	}
}

func (d *Dispatcher) consume() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case alert := <-d.queue:
			d.process(alert)
		}
	}
}

// process runs one alert. Transient I/O errors retry the same alert in place
// with a fixed delay, bounded only by shutdown; any other error drops the
// alert and moves on. A single bad alert never aborts the consumer loop.
func (d *Dispatcher) process(alert Alert) {
	err := retry.Do(
		func() error { return alert.Process(d.ctx, d.manager) },
		retry.RetryIf(isTransientErr),
		retry.Attempts(0),
		retry.Delay(d.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(d.ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(_ uint, err error) {
			log.Warn().Err(err).Str("kind", alert.Kind()).Msg("Transient error processing alert, retrying")
		}),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("kind", alert.Kind()).Msg("Unable to process alert")
	}
}

// isTransientErr classifies read-timeout errors, the only class worth
// retrying in place.
func isTransientErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
