package worker

import (
	"context"
	"time"

	"cart-service/internal/broker"
	"cart-service/internal/service"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// CheckoutWorker consumes checkout events and completes the paid carts
type CheckoutWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCheckoutWorker creates a new checkout worker
func NewCheckoutWorker(consumer *broker.Consumer, orchestrator *service.CheckoutOrchestrator) *CheckoutWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnCheckoutCompleted(orchestrator.HandleCheckoutCompleted)

	return &CheckoutWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *CheckoutWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting checkout worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CheckoutWorker) Stop() error {
	w.logger.Info("Stopping checkout worker")
	return w.consumer.Close()
}

// CartExpirer expires carts idle for longer than the given period
type CartExpirer interface {
	ExpireAbandonedCarts(ctx context.Context, idleFor time.Duration) (int, error)
}

// Locker serializes sweeps across replicas. A lock is released only by the
// holder whose token took it.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, name, token string) (bool, error)
}

const expiryLockKey = "cart-expiry-sweep"

// ExpiryWorker periodically expires abandoned carts
type ExpiryWorker struct {
	expirer   CartExpirer
	locker    Locker
	idleFor   time.Duration
	interval  time.Duration
	logger    *zap.Logger
	lockTTL   time.Duration
	sweepDone func(expired int)
}

// NewExpiryWorker creates a new expiry worker. locker may be nil.
func NewExpiryWorker(expirer CartExpirer, locker Locker, idleFor, interval time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		locker:   locker,
		idleFor:  idleFor,
		interval: interval,
		lockTTL:  interval,
		logger:   util.GetLogger(),
	}
}

// Start sweeps once immediately and then on every tick until ctx is done
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry worker",
		zap.Duration("idle_for", w.idleFor),
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Sweep(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one expiry pass. Failures are logged; the next tick retries.
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	if w.locker != nil {
		token, acquired, err := w.locker.AcquireLock(ctx, expiryLockKey, w.lockTTL)
		if err != nil {
			w.logger.Warn("Failed to acquire expiry lock", zap.Error(err))
			return
		}
		if !acquired {
			w.logger.Debug("Expiry sweep running elsewhere")
			return
		}
		defer func() {
			released, err := w.locker.ReleaseLock(context.Background(), expiryLockKey, token)
			if err != nil {
				w.logger.Warn("Failed to release expiry lock", zap.Error(err))
				return
			}
			if !released {
				w.logger.Warn("Expiry lock expired before the sweep finished",
					zap.Duration("lock_ttl", w.lockTTL))
			}
		}()
	}

	expired, err := w.expirer.ExpireAbandonedCarts(ctx, w.idleFor)
	if err != nil {
		w.logger.Error("Expiry sweep failed", zap.Int("expired", expired), zap.Error(err))
	}
	if w.sweepDone != nil {
		w.sweepDone(expired)
	}
}
