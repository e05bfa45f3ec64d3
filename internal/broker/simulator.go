package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tradewire/internal/domain"
)

// Compile-time interface check.
var _ Adapter = (*Simulator)(nil)

// Simulator implements Adapter in memory for paper trading. Semantics and
// close style are configurable so one simulator can stand in for any venue,
// and positions never leave the process.
type Simulator struct {
	name      string
	semantics Semantics
	style     CloseStyle
	quantity  float64

	mu        sync.Mutex
	positions map[string]float64
	orders    int
}

// NewSimulator creates a flat simulator that reports the given semantics
// and close style. Orders fill instantly at size one.
func NewSimulator(name string, semantics Semantics, style CloseStyle) *Simulator {
	return &Simulator{
		name:      name,
		semantics: semantics,
		style:     style,
		quantity:  1,
		positions: make(map[string]float64),
	}
}

// Name returns the name given at construction.
func (s *Simulator) Name() string {
	return s.name
}

// Semantics returns the configured semantics.
func (s *Simulator) Semantics() Semantics {
	return s.semantics
}

// CloseStyle returns the configured close style.
func (s *Simulator) CloseStyle() CloseStyle {
	return s.style
}

// SetPosition seeds a net position, for tests and manual paper setups.
func (s *Simulator) SetPosition(instrument string, net float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[instrument] = net
}

// CurrentPosition returns the simulated net position.
func (s *Simulator) CurrentPosition(_ context.Context, instrument string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Position{Instrument: instrument, NetQuantity: s.positions[instrument]}, nil
}

// Close flattens the given side if it is held, and skips benignly if not.
func (s *Simulator) Close(_ context.Context, instrument string, side domain.Direction) (domain.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.positions[instrument]
	holdsSide := (side == domain.DirectionLong && held > 0) || (side == domain.DirectionShort && held < 0)
	if !holdsSide {
		return domain.StepOutcome{
			Skipped: true,
			Detail:  fmt.Sprintf("no %s position on %s to close", strings.ToLower(string(side)), instrument),
		}, nil
	}
	s.positions[instrument] = 0
	s.orders++
	return domain.StepOutcome{Detail: fmt.Sprintf("closed %s side of %s", strings.ToLower(string(side)), instrument)}, nil
}

// LiquidateAll flattens the instrument regardless of side.
func (s *Simulator) LiquidateAll(_ context.Context, instrument string) (domain.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positions[instrument] == 0 {
		return domain.StepOutcome{Skipped: true, Detail: fmt.Sprintf("no open positions on %s", instrument)}, nil
	}
	s.positions[instrument] = 0
	s.orders++
	return domain.StepOutcome{Detail: "liquidated all positions on " + instrument}, nil
}

// Open fills a simulated market order, adjusting the net position by the
// fill quantity.
func (s *Simulator) Open(_ context.Context, instrument string, dir domain.Direction) (domain.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qty := s.quantity
	if dir == domain.DirectionShort {
		qty = -qty
	}
	s.positions[instrument] += qty
	s.orders++
	return domain.StepOutcome{Detail: fmt.Sprintf("simulated market order %+g %s", qty, instrument)}, nil
}

// AccountStatus reports the simulated book.
func (s *Simulator) AccountStatus(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := 0
	for _, net := range s.positions {
		if net != 0 {
			open++
		}
	}
	return map[string]any{
		"broker":         s.name,
		"mode":           "simulated",
		"open_positions": open,
		"orders_placed":  s.orders,
	}, nil
}
