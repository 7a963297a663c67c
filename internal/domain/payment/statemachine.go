package payment

import (
	"github.com/yourorg/payment-engine/internal/apperror"
)

// Trigger names a lifecycle event that may move a payment to its next state.
type Trigger string

const (
	TriggerProcess       Trigger = "PROCESS"
	TriggerComplete      Trigger = "COMPLETE"
	TriggerFail          Trigger = "FAIL"
	TriggerRefund        Trigger = "REFUND"
	TriggerPartialRefund Trigger = "PARTIAL_REFUND"
)

// transitions is the full table of legal lifecycle moves. Only forward-moving
// transitions are present; Succeeded is not terminal because refunds and
// settlement close-out are legal from it.
var transitions = map[Status]map[Trigger]Status{
	StatusCreated: {
		TriggerProcess: StatusProcessing,
	},
	StatusProcessing: {
		TriggerComplete: StatusSucceeded,
		TriggerFail:     StatusFailed,
	},
	StatusSucceeded: {
		TriggerComplete:      StatusCompleted,
		TriggerRefund:        StatusRefunded,
		TriggerPartialRefund: StatusPartiallyRefunded,
	},
	StatusPartiallyRefunded: {
		TriggerRefund:        StatusRefunded,
		TriggerPartialRefund: StatusPartiallyRefunded,
	},
}

// Next resolves the state a payment moves to when trigger fires in state.
// It is pure and total: any (state, trigger) pair outside the legal table
// fails with an invalid-transition error rather than silently doing nothing.
func Next(state Status, trigger Trigger) (Status, error) {
	byTrigger, ok := transitions[state]
	if ok {
		if next, ok := byTrigger[trigger]; ok {
			return next, nil
		}
	}
	return "", apperror.New(apperror.KindInvalidTransition,
		"trigger %s is not legal in state %s", trigger, state)
}
