package tracking

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultDispatchBuffer = 256

// Dispatcher is the asynchronous side channel for touch ingestion. Enqueue
// never blocks: tracking must not affect the latency or success of the caller's
// primary action, so a full buffer drops the touch with a logged warning.
type Dispatcher struct {
	service *Service
	logger  *zap.Logger
	queue   chan TouchRequest

	closeOnce sync.Once
	done      chan struct{}
}

// DispatcherConfig describes the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Service    *Service
	Logger     *zap.Logger
	BufferSize int
}

// NewDispatcher constructs a Dispatcher and starts its worker.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Service == nil {
		return nil, newServiceError("tracking.dispatcher.new", "missing_service", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultDispatchBuffer
	}

	d := &Dispatcher{
		service: cfg.Service,
		logger:  logger,
		queue:   make(chan TouchRequest, bufferSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// Enqueue submits a touch for background ingestion. It never blocks and never
// returns an error; a dropped or failed touch is a logged degradation only.
func (d *Dispatcher) Enqueue(request TouchRequest) {
	select {
	case d.queue <- request:
	default:
		d.logger.Warn("touch dropped, dispatch buffer full",
			zap.String("event_name", request.EventName.String()),
			zap.String("visitor_id", request.VisitorID))
	}
}

// Close stops accepting touches, drains the queue, and waits for the worker.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for request := range d.queue {
		if _, err := d.service.RecordTouch(context.Background(), request); err != nil {
			d.logger.Warn("background touch ingestion failed",
				zap.String("event_name", request.EventName.String()),
				zap.Error(err))
		}
	}
}
