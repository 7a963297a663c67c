// Package idempotency guarantees that each client-visible request is applied
// at most once despite retries. It canonicalizes a request into a hash,
// resolves a client idempotency key against a persisted record, and either
// replays the prior payment or lets first-time processing proceed.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// HashInput lists every semantically significant field of a payment request.
// Two requests with equal HashInput are the same logical request regardless
// of metadata map ordering.
type HashInput struct {
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Provider    string
	MerchantID  string
	OrderID     string
	ProjectCode string
	FeePercent  *decimal.Decimal
	Metadata    map[string]string
}

// Hash computes the deterministic canonical hash of a request. Metadata keys
// are sorted before hashing so map iteration order never affects the result,
// and decimal values are normalized so "100.00" and "100" hash identically.
func Hash(in HashInput) string {
	var b strings.Builder
	b.WriteString(in.Amount.String())
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(in.Currency))
	b.WriteByte('|')
	b.WriteString(in.Method)
	b.WriteByte('|')
	b.WriteString(in.Provider)
	b.WriteByte('|')
	b.WriteString(in.MerchantID)
	b.WriteByte('|')
	b.WriteString(in.OrderID)
	b.WriteByte('|')
	b.WriteString(in.ProjectCode)
	b.WriteByte('|')
	if in.FeePercent != nil {
		b.WriteString(in.FeePercent.String())
	}

	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(in.Metadata[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
