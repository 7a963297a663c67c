package payment_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-engine/internal/apperror"
	"github.com/yourorg/payment-engine/internal/domain/payment"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSplit(t *testing.T) {
	t.Run("Even split", func(t *testing.T) {
		sp, err := payment.Split(dec("100.00"), dec("5.0"))
		require.NoError(t, err)
		assert.True(t, sp.SystemShare.Equal(dec("5.00")), "system share: %s", sp.SystemShare)
		assert.True(t, sp.OwnerShare.Equal(dec("95.00")), "owner share: %s", sp.OwnerShare)
	})

	t.Run("Rounding remainder goes to owner", func(t *testing.T) {
		sp, err := payment.Split(dec("99.99"), dec("5.0"))
		require.NoError(t, err)
		assert.True(t, sp.SystemShare.Equal(dec("5.00")), "system share: %s", sp.SystemShare)
		assert.True(t, sp.OwnerShare.Equal(dec("94.99")), "owner share: %s", sp.OwnerShare)
	})

	t.Run("Shares always sum to total", func(t *testing.T) {
		totals := []string{"0.01", "1.00", "33.33", "99.99", "1234.56", "10000.01"}
		fees := []string{"0.5", "2.9", "5.0", "12.75", "100"}
		for _, total := range totals {
			for _, fee := range fees {
				sp, err := payment.Split(dec(total), dec(fee))
				require.NoError(t, err)
				sum := sp.SystemShare.Add(sp.OwnerShare)
				assert.True(t, sum.Equal(dec(total)),
					"split(%s, %s): %s + %s != %s", total, fee, sp.SystemShare, sp.OwnerShare, total)
			}
		}
	})

	t.Run("Zero fee percent", func(t *testing.T) {
		sp, err := payment.Split(dec("50.00"), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, sp.SystemShare.IsZero())
		assert.True(t, sp.OwnerShare.Equal(dec("50.00")))
	})

	t.Run("Invalid inputs", func(t *testing.T) {
		_, err := payment.Split(decimal.Zero, dec("5.0"))
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))

		_, err = payment.Split(dec("-1"), dec("5.0"))
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))

		_, err = payment.Split(dec("100"), dec("-1"))
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))

		_, err = payment.Split(dec("100"), dec("100.1"))
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	})
}
