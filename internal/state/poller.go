package state

import (
	"context"
	"log"
	"sync"
	"time"

	"wasmscan/internal/eventbus"
	"wasmscan/internal/models"
)

// Reader is the slice of the repository the poller needs.
type Reader interface {
	GetState(ctx context.Context) (*models.State, error)
}

// Poller keeps an in-memory snapshot of the exporter-maintained chain
// state and publishes bus events when the tip advances. Handlers read
// the snapshot instead of hitting the state table on every request.
type Poller struct {
	reader   Reader
	bus      *eventbus.Bus
	interval time.Duration

	mu      sync.RWMutex
	current *models.State
}

func NewPoller(reader Reader, bus *eventbus.Bus, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{reader: reader, bus: bus, interval: interval}
}

// Current returns the latest observed chain state, nil before the first
// successful poll.
func (p *Poller) Current() *models.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Run polls until ctx is cancelled. The first poll happens immediately
// so handlers have a snapshot as soon as the process is up.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	s, err := p.reader.GetState(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[state] poll failed: %v", err)
		}
		return
	}
	if s == nil {
		return
	}

	p.mu.Lock()
	prev := p.current
	p.current = s
	p.mu.Unlock()

	if prev == nil {
		log.Printf("[state] chain %s at block %d", s.ChainID, s.LatestBlockHeight)
	}
	if p.bus == nil {
		return
	}
	if prev != nil && prev.ChainID != s.ChainID {
		p.bus.Publish(eventbus.Event{
			Type:      eventbus.TypeChainChange,
			Height:    s.LatestBlockHeight,
			Timestamp: time.Now(),
			Data:      s,
		})
	}
	if prev == nil || s.LatestBlockHeight > prev.LatestBlockHeight {
		p.bus.Publish(eventbus.Event{
			Type:      eventbus.TypeBlockAdvance,
			Height:    s.LatestBlockHeight,
			Timestamp: time.Now(),
			Data:      s,
		})
	}
}
