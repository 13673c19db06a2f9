package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval matches the exchange's book refresh cadence
const DefaultPollInterval = 5 * time.Second

// ErrPollerRunning is returned when Start is called twice
var ErrPollerRunning = errors.New("poller already running")

// Poller refreshes one book per symbol from a BookSource on a fixed
// interval. A failed refresh keeps the previous snapshot and is retried on
// the next tick.
type Poller struct {
	source   BookSource
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	books   map[string]*Book
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPoller creates a poller for the given symbols. Non-positive intervals
// fall back to DefaultPollInterval.
func NewPoller(source BookSource, symbols []string, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	books := make(map[string]*Book, len(symbols))
	for _, sym := range symbols {
		books[sym] = NewBook(sym)
	}

	return &Poller{
		source:   source,
		interval: interval,
		logger:   logger.With().Str("component", "marketdata").Logger(),
		books:    books,
	}
}

// Book returns the tracked book for a symbol, or nil for an untracked one
func (p *Poller) Book(symbol string) *Book {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.books[symbol]
}

// Symbols returns the tracked symbols
func (p *Poller) Symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.books))
	for sym := range p.books {
		out = append(out, sym)
	}
	return out
}

// Start performs one synchronous refresh so books are primed, then
// launches the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.refreshAll(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info().
		Int("symbols", len(p.books)).
		Dur("interval", p.interval).
		Msg("Market data poller started")
	return nil
}

// Stop halts the polling loop and waits for it to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("Market data poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshAll(ctx)
		}
	}
}

func (p *Poller) refreshAll(ctx context.Context) {
	p.mu.Lock()
	books := make([]*Book, 0, len(p.books))
	for _, b := range p.books {
		books = append(books, b)
	}
	p.mu.Unlock()

	for _, book := range books {
		snap, err := p.source.BookSnapshot(ctx, book.Symbol())
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("symbol", book.Symbol()).
				Msg("Book refresh failed, keeping previous snapshot")
			continue
		}
		book.Apply(snap)
	}
}
