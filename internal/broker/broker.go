// Package broker defines the exchange adapter interface and provides
// implementations for each supported venue: OANDA forex, Tradovate futures,
// Coinbase spot, and an in-memory simulator.
package broker

import (
	"context"

	"tradewire/internal/domain"
)

// Semantics declares how an adapter treats a repeat signal in the same
// direction. Net-position brokers skip it to avoid duplicate exposure;
// always-execute brokers run the close/open pair again, and the repeat open
// adds exposure. Both behaviors are contractual, declared per adapter.
type Semantics string

const (
	SemanticsNetPosition   Semantics = "net-position"
	SemanticsAlwaysExecute Semantics = "always-execute"
)

// CloseStyle declares how an adapter unwinds exposure before a flip:
// closing just the opposite side, or liquidating every open position on the
// instrument. Liquidation exists because partial fills can leave multiple
// position records for one instrument.
type CloseStyle string

const (
	CloseOppositeSide CloseStyle = "close-opposite"
	CloseLiquidateAll CloseStyle = "liquidate-all"
)

// Adapter abstracts one venue. Sizing is adapter-internal; the engine only
// sequences calls and never talks HTTP itself.
type Adapter interface {
	// Name returns the adapter identifier (e.g. "oanda", "simulator").
	Name() string

	// Semantics reports the adapter's repeat-signal behavior.
	Semantics() Semantics

	// CloseStyle reports how the adapter unwinds before a flip.
	CloseStyle() CloseStyle

	// CurrentPosition returns the net position on the instrument.
	CurrentPosition(ctx context.Context, instrument string) (domain.Position, error)

	// Close unwinds the given side of the instrument. A missing position on
	// that side is a benign skip, not an error.
	Close(ctx context.Context, instrument string, side domain.Direction) (domain.StepOutcome, error)

	// LiquidateAll closes every open position on the instrument.
	LiquidateAll(ctx context.Context, instrument string) (domain.StepOutcome, error)

	// Open places the order establishing the desired side.
	Open(ctx context.Context, instrument string, dir domain.Direction) (domain.StepOutcome, error)

	// AccountStatus returns a broker account snapshot for status endpoints.
	AccountStatus(ctx context.Context) (map[string]any, error)
}
