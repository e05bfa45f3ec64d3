// Package domain holds the core types shared across tradewire: inbound
// signals, broker positions, reconciliation plans, and the error taxonomy
// surfaced at the API boundary.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side a signal wants the account positioned on.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// ParseDirection normalizes and validates a wire-format direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionLong:
		return DirectionLong, nil
	case DirectionShort:
		return DirectionShort, nil
	}
	return "", Errorf(KindValidation, "invalid direction %q: must be LONG or SHORT", s)
}

// Exchange identifies the venue a signal targets. The futures exchanges all
// route to the Tradovate adapter; OANDA and COINBASE each have their own.
type Exchange string

const (
	ExchangeOANDA    Exchange = "OANDA"
	ExchangeCoinbase Exchange = "COINBASE"
	ExchangeNYMEX    Exchange = "NYMEX"
	ExchangeCOMEX    Exchange = "COMEX"
	ExchangeCBOT     Exchange = "CBOT"
	ExchangeCME      Exchange = "CME"
	ExchangeCMEMini  Exchange = "CME_MINI"
	ExchangeICE      Exchange = "ICE"
)

// SupportedExchanges lists every routable exchange in stable order, for
// validation messages.
func SupportedExchanges() []Exchange {
	return []Exchange{
		ExchangeOANDA, ExchangeCoinbase,
		ExchangeNYMEX, ExchangeCOMEX, ExchangeCBOT,
		ExchangeCME, ExchangeCMEMini, ExchangeICE,
	}
}

// IsFutures reports whether the exchange routes to the futures adapter.
func (e Exchange) IsFutures() bool {
	switch e {
	case ExchangeNYMEX, ExchangeCOMEX, ExchangeCBOT, ExchangeCME, ExchangeCMEMini, ExchangeICE:
		return true
	}
	return false
}

// ParseExchange normalizes and validates a wire-format exchange name.
func ParseExchange(s string) (Exchange, error) {
	e := Exchange(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range SupportedExchanges() {
		if e == known {
			return e, nil
		}
	}
	names := make([]string, 0, len(SupportedExchanges()))
	for _, known := range SupportedExchanges() {
		names = append(names, string(known))
	}
	return "", Errorf(KindValidation, "unsupported exchange %q: supported exchanges are %s", s, strings.Join(names, ", "))
}

// Signal is the transient intent decoded from one webhook delivery. Signals
// are never persisted; redelivery after a crash is the sender's concern.
type Signal struct {
	Exchange   Exchange
	Symbol     string
	Direction  Direction
	ReceivedAt time.Time
}

// PositionState classifies an account's net exposure on one instrument.
type PositionState string

const (
	StateFlat  PositionState = "FLAT"
	StateLong  PositionState = "LONG"
	StateShort PositionState = "SHORT"
)

// Direction returns the side a non-flat state is exposed on. StateFlat has
// no side and returns the empty direction.
func (s PositionState) Direction() Direction {
	switch s {
	case StateLong:
		return DirectionLong
	case StateShort:
		return DirectionShort
	}
	return ""
}

// Position is a broker-reported net position on one instrument. The sign of
// NetQuantity carries the side.
type Position struct {
	Instrument  string
	NetQuantity float64
}

// State derives the position state from the sign of the net quantity.
func (p Position) State() PositionState {
	switch {
	case p.NetQuantity > 0:
		return StateLong
	case p.NetQuantity < 0:
		return StateShort
	}
	return StateFlat
}

// ActionKind enumerates the steps a reconciliation plan can contain.
type ActionKind string

const (
	ActionSkip          ActionKind = "SKIP"
	ActionCloseOpposite ActionKind = "CLOSE_OPPOSITE"
	ActionLiquidateAll  ActionKind = "LIQUIDATE_ALL"
	ActionOpenLong      ActionKind = "OPEN_LONG"
	ActionOpenShort     ActionKind = "OPEN_SHORT"
)

// Action is one step of a reconciliation plan. Side is the position side a
// CLOSE_OPPOSITE targets; the other kinds leave it empty.
type Action struct {
	Kind ActionKind
	Side Direction
}

func (a Action) String() string {
	if a.Kind == ActionCloseOpposite && a.Side != "" {
		return fmt.Sprintf("%s(%s)", a.Kind, a.Side)
	}
	return string(a.Kind)
}

// OpenDirection returns the side an open action establishes, or the empty
// direction for non-open kinds.
func (a Action) OpenDirection() Direction {
	switch a.Kind {
	case ActionOpenLong:
		return DirectionLong
	case ActionOpenShort:
		return DirectionShort
	}
	return ""
}

// OpenAction returns the open step for the desired direction.
func OpenAction(d Direction) Action {
	if d == DirectionShort {
		return Action{Kind: ActionOpenShort}
	}
	return Action{Kind: ActionOpenLong}
}

// Plan is an ordered list of actions. Steps run strictly in order and a
// failed step aborts the remainder; close-then-open is not atomic.
type Plan []Action

func (p Plan) String() string {
	parts := make([]string, len(p))
	for i, a := range p {
		parts[i] = a.String()
	}
	return strings.Join(parts, " -> ")
}

// StepStatus classifies how one plan step went.
type StepStatus string

const (
	StepExecuted StepStatus = "EXECUTED"
	StepSkipped  StepStatus = "SKIPPED"
	StepFailed   StepStatus = "FAILED"
)

// StepOutcome is what an adapter reports for a single broker operation.
// Skipped marks benign no-ops, such as closing a side that holds nothing.
type StepOutcome struct {
	Skipped bool
	Detail  string
}

// StepResult records the outcome of one plan step.
type StepResult struct {
	Action Action
	Status StepStatus
	Detail string
	Err    error
}

// Execution is the full record of one signal's handling: the instrument it
// resolved to, the plan that was computed, and how each step went.
// CacheStatus reports the symbol cache circuit breaker ("active" or
// "bypassed") when symbol resolution was involved; Error carries the
// failure text when the execution did not complete.
type Execution struct {
	ID          string
	Signal      Signal
	Instrument  string
	Plan        Plan
	Steps       []StepResult
	CacheStatus string
	Error       string
	StartedAt   time.Time
	Duration    time.Duration
}

// Status aggregates the step results: FAILED if any step failed, EXECUTED
// if any step reached the broker, SKIPPED otherwise.
func (e Execution) Status() StepStatus {
	status := StepSkipped
	for _, s := range e.Steps {
		switch s.Status {
		case StepFailed:
			return StepFailed
		case StepExecuted:
			status = StepExecuted
		}
	}
	return status
}
