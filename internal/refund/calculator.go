// Package refund pro-rates the current rental payment when a device rental
// ends before its paid period has run out.
package refund

import (
	"fmt"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/shopspring/decimal"
)

// DefaultPeriod is the rental period used when none is configured.
const DefaultPeriod = 24 * time.Hour

// Settlement is the split of the most recent payment between lessor and
// lessee. RefundAmount + PayAmount == Payment.Amount.
type Settlement struct {
	DeviceID     string            `json:"device_id"`
	Payment      api.PaymentRecord `json:"payment"`
	Remaining    time.Duration     `json:"remaining"`
	RefundAmount int64             `json:"refund_amount"`
	PayAmount    int64             `json:"pay_amount"`
}

// Key identifies the refund for one payment so that re-sending it after a
// crash is recognised downstream.
func (s Settlement) Key() string {
	return PaymentKey(s.DeviceID, s.Payment)
}

// PaymentKey is the refund instruction ID for a payment on deviceID.
func PaymentKey(deviceID string, pmt api.PaymentRecord) string {
	return fmt.Sprintf("%s:%d", deviceID, pmt.PayTime.UnixMilli())
}

// Instruction is the refund request sent to the lessee's wallet.
func (s Settlement) Instruction() api.RefundInstruction {
	return api.RefundInstruction{
		ID:          s.Key(),
		Destination: s.Payment.RefundAddress,
		Amount:      s.RefundAmount,
	}
}

// Record is the split as it is written to the refund journal.
func (s Settlement) Record() api.RefundRecord {
	return api.RefundRecord{
		ID:           s.Key(),
		Remaining:    s.Remaining,
		RefundAmount: s.RefundAmount,
		PayAmount:    s.PayAmount,
	}
}

// Apply credits the lessor and drops the settled payment from the ledger.
func (s Settlement) Apply(account *api.RentalAccount) {
	if n := len(account.Payments); n > 0 {
		account.Payments = account.Payments[:n-1]
	}
	account.MoneyOwed += s.PayAmount
}

// Evaluate looks only at the last payment in the ledger. It reports false when
// the ledger is empty or the last period has already elapsed at now.
func Evaluate(account *api.RentalAccount, now time.Time, period time.Duration) (Settlement, bool) {
	n := len(account.Payments)
	if n == 0 {
		return Settlement{}, false
	}
	if period <= 0 {
		period = DefaultPeriod
	}

	last := account.Payments[n-1]
	remaining := last.PayTime.Sub(now)
	if remaining <= 0 {
		return Settlement{}, false
	}

	refund := prorate(last.Amount, remaining, period)
	return Settlement{
		DeviceID:     account.DeviceID,
		Payment:      last,
		Remaining:    remaining,
		RefundAmount: refund,
		PayAmount:    last.Amount - refund,
	}, true
}

// Replay rebuilds the settlement of the last payment from a journaled split.
// It reports false when rec belongs to a different payment or does not add up
// to its amount.
func Replay(account *api.RentalAccount, rec api.RefundRecord) (Settlement, bool) {
	n := len(account.Payments)
	if n == 0 {
		return Settlement{}, false
	}

	last := account.Payments[n-1]
	if rec.ID != PaymentKey(account.DeviceID, last) || rec.RefundAmount+rec.PayAmount != last.Amount {
		return Settlement{}, false
	}
	return Settlement{
		DeviceID:     account.DeviceID,
		Payment:      last,
		Remaining:    rec.Remaining,
		RefundAmount: rec.RefundAmount,
		PayAmount:    rec.PayAmount,
	}, true
}

// prorate computes floor(amount * remaining / period) without float error.
// remaining may exceed period under clock skew; the refund is then capped at
// the full amount.
//
// QuoRem at precision 0 truncates the exact quotient. Div would round at
// DivisionPrecision first, which lifts quotients just below an integer.
func prorate(amount int64, remaining, period time.Duration) int64 {
	if amount <= 0 {
		return 0
	}
	if remaining >= period {
		return amount
	}
	num := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(int64(remaining)))
	q, _ := num.QuoRem(decimal.NewFromInt(int64(period)), 0)
	return q.IntPart()
}
