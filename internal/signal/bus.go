// Package signal is an in-process broadcast of stakes placed by this
// process's own user, ahead of ledger confirmation.
package signal

import (
	"fmt"
	"sync"

	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// StakePlaced announces a locally submitted stake.
type StakePlaced struct {
	RequestID string
	Event     types.StakeEvent
}

// Handler receives published signals.
type Handler func(StakePlaced)

type registration struct {
	id      uint64
	handler Handler
}

// Bus delivers signals synchronously to handlers in registration order.
type Bus struct {
	handlers []registration
	nextID   uint64
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
	}
}

// On registers a handler and returns a func that removes it. The returned
// func is safe to call more than once.
func (b *Bus) On(h Handler) (off func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, registration{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, r := range b.handlers {
				if r.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish calls every handler on the caller's goroutine. A panicking handler
// is logged and does not stop delivery to the others.
func (b *Bus) Publish(sig StakePlaced) {
	b.mu.RLock()
	handlers := make([]registration, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	SignalsPublishedTotal.Inc()

	for _, r := range handlers {
		b.deliver(r, sig)
	}
}

func (b *Bus) deliver(r registration, sig StakePlaced) {
	defer func() {
		if rec := recover(); rec != nil {
			HandlerPanicsTotal.Inc()
			b.logger.Error("signal-handler-panic",
				zap.Uint64("handler-id", r.id),
				zap.String("market-id", sig.Event.MarketID),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()

	r.handler(sig)
}

// HandlerCount returns the number of registered handlers.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
