// Package engine computes and executes reconciliation plans: given the
// current position on an instrument and a desired direction, it decides the
// ordered close/open steps and runs them against the venue's adapter.
package engine

import (
	"context"

	"tradewire/internal/broker"
	"tradewire/internal/domain"
)

// BuildPlan maps (current state, desired direction) to the ordered action
// list for an adapter with the given semantics and close style:
//
//	flat      -> open desired
//	same side -> skip (net-position) or close-then-open (always-execute)
//	flip      -> close current side (or liquidate all), then open desired
func BuildPlan(current domain.PositionState, desired domain.Direction, sem broker.Semantics, style broker.CloseStyle) domain.Plan {
	open := domain.OpenAction(desired)

	closeStep := func(side domain.Direction) domain.Action {
		if style == broker.CloseLiquidateAll {
			return domain.Action{Kind: domain.ActionLiquidateAll}
		}
		return domain.Action{Kind: domain.ActionCloseOpposite, Side: side}
	}

	switch {
	case current == domain.StateFlat:
		return domain.Plan{open}
	case current.Direction() == desired:
		if sem == broker.SemanticsNetPosition {
			return domain.Plan{{Kind: domain.ActionSkip}}
		}
		// Always-execute venues run the close/open pair on every signal.
		// The close targets the absent opposite side and skips benignly;
		// the repeat open adds exposure.
		return domain.Plan{closeStep(desired.Opposite()), open}
	default:
		return domain.Plan{closeStep(current.Direction()), open}
	}
}

// ExecutePlan runs the plan steps strictly in order against the adapter.
// A failed step aborts the remainder; the partial results and the error are
// both returned so the caller sees exactly how far execution got. Close and
// open are independent calls: a close that lands before a failed open
// leaves the instrument flat, and that is reported, not retried.
func ExecutePlan(ctx context.Context, a broker.Adapter, instrument string, plan domain.Plan) ([]domain.StepResult, error) {
	results := make([]domain.StepResult, 0, len(plan))
	for _, action := range plan {
		res := runStep(ctx, a, instrument, action)
		results = append(results, res)
		if res.Status == domain.StepFailed {
			return results, res.Err
		}
	}
	return results, nil
}

func runStep(ctx context.Context, a broker.Adapter, instrument string, action domain.Action) domain.StepResult {
	switch action.Kind {
	case domain.ActionSkip:
		return domain.StepResult{
			Action: action,
			Status: domain.StepSkipped,
			Detail: "position already on desired side",
		}
	case domain.ActionCloseOpposite:
		out, err := a.Close(ctx, instrument, action.Side)
		return stepResult(action, out, err)
	case domain.ActionLiquidateAll:
		out, err := a.LiquidateAll(ctx, instrument)
		return stepResult(action, out, err)
	case domain.ActionOpenLong, domain.ActionOpenShort:
		out, err := a.Open(ctx, instrument, action.OpenDirection())
		return stepResult(action, out, err)
	}
	return domain.StepResult{
		Action: action,
		Status: domain.StepFailed,
		Err:    domain.Errorf(domain.KindUnexpected, "unknown plan action %q", action.Kind),
	}
}

func stepResult(action domain.Action, out domain.StepOutcome, err error) domain.StepResult {
	if err != nil {
		return domain.StepResult{Action: action, Status: domain.StepFailed, Detail: out.Detail, Err: err}
	}
	if out.Skipped {
		return domain.StepResult{Action: action, Status: domain.StepSkipped, Detail: out.Detail}
	}
	return domain.StepResult{Action: action, Status: domain.StepExecuted, Detail: out.Detail}
}
