package payment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-engine/internal/apperror"
	"github.com/yourorg/payment-engine/internal/domain/payment"
)

var allStatuses = []payment.Status{
	payment.StatusCreated,
	payment.StatusProcessing,
	payment.StatusSucceeded,
	payment.StatusFailed,
	payment.StatusRefunded,
	payment.StatusPartiallyRefunded,
	payment.StatusCompleted,
}

var allTriggers = []payment.Trigger{
	payment.TriggerProcess,
	payment.TriggerComplete,
	payment.TriggerFail,
	payment.TriggerRefund,
	payment.TriggerPartialRefund,
}

func TestNext_LegalTransitions(t *testing.T) {
	cases := []struct {
		from    payment.Status
		trigger payment.Trigger
		want    payment.Status
	}{
		{payment.StatusCreated, payment.TriggerProcess, payment.StatusProcessing},
		{payment.StatusProcessing, payment.TriggerComplete, payment.StatusSucceeded},
		{payment.StatusProcessing, payment.TriggerFail, payment.StatusFailed},
		{payment.StatusSucceeded, payment.TriggerComplete, payment.StatusCompleted},
		{payment.StatusSucceeded, payment.TriggerRefund, payment.StatusRefunded},
		{payment.StatusSucceeded, payment.TriggerPartialRefund, payment.StatusPartiallyRefunded},
		{payment.StatusPartiallyRefunded, payment.TriggerRefund, payment.StatusRefunded},
		{payment.StatusPartiallyRefunded, payment.TriggerPartialRefund, payment.StatusPartiallyRefunded},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_"+string(tc.trigger), func(t *testing.T) {
			got, err := payment.Next(tc.from, tc.trigger)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			// Legal transitions must be deterministic.
			again, err := payment.Next(tc.from, tc.trigger)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestNext_Totality(t *testing.T) {
	legal := map[[2]string]bool{
		{"CREATED", "PROCESS"}:                  true,
		{"PROCESSING", "COMPLETE"}:              true,
		{"PROCESSING", "FAIL"}:                  true,
		{"SUCCEEDED", "COMPLETE"}:               true,
		{"SUCCEEDED", "REFUND"}:                 true,
		{"SUCCEEDED", "PARTIAL_REFUND"}:         true,
		{"PARTIALLY_REFUNDED", "REFUND"}:        true,
		{"PARTIALLY_REFUNDED", "PARTIAL_REFUND"}: true,
	}

	for _, state := range allStatuses {
		for _, trigger := range allTriggers {
			if legal[[2]string{string(state), string(trigger)}] {
				continue
			}
			_, err := payment.Next(state, trigger)
			require.Error(t, err, "expected %s + %s to be illegal", state, trigger)
			assert.True(t, apperror.IsKind(err, apperror.KindInvalidTransition),
				"illegal pair %s + %s must fail with invalid transition, got %v", state, trigger, err)
		}
	}
}

func TestNext_UnknownState(t *testing.T) {
	_, err := payment.Next(payment.Status("BOGUS"), payment.TriggerProcess)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidTransition))
}
