package refund

import (
	"math"
	"testing"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func accountWith(payments ...api.PaymentRecord) *api.RentalAccount {
	return &api.RentalAccount{DeviceID: "dev-1", Payments: payments, MoneyOwed: 10}
}

func TestEvaluateHalfPeriodRemaining(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 1000, PayTime: now.Add(12 * time.Hour), RefundAddress: "addr"})

	s, ok := Evaluate(acct, now, 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, int64(500), s.RefundAmount)
	assert.Equal(t, int64(500), s.PayAmount)
	assert.Equal(t, 12*time.Hour, s.Remaining)
}

func TestEvaluateRoundsRefundDown(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 999, PayTime: now.Add(time.Second)})

	s, ok := Evaluate(acct, now, 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, int64(0), s.RefundAmount)
	assert.Equal(t, int64(999), s.PayAmount)
}

func TestEvaluatePeriodEndingNowIsNoop(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 1000, PayTime: now})

	_, ok := Evaluate(acct, now, 24*time.Hour)
	assert.False(t, ok)
	assert.Len(t, acct.Payments, 1)
}

func TestEvaluateElapsedPeriodIsNoop(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 1000, PayTime: now.Add(-time.Minute)})

	_, ok := Evaluate(acct, now, 24*time.Hour)
	assert.False(t, ok)
}

func TestEvaluateEmptyLedgerIsNoop(t *testing.T) {
	_, ok := Evaluate(accountWith(), now, 24*time.Hour)
	assert.False(t, ok)
}

func TestEvaluateOnlyConsidersLastPayment(t *testing.T) {
	acct := accountWith(
		api.PaymentRecord{Amount: 5000, PayTime: now.Add(20 * time.Hour)},
		api.PaymentRecord{Amount: 800, PayTime: now.Add(6 * time.Hour)},
	)

	s, ok := Evaluate(acct, now, 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, int64(800), s.Payment.Amount)
	assert.Equal(t, int64(200), s.RefundAmount)
	assert.Equal(t, int64(600), s.PayAmount)
}

func TestEvaluateToleratesClockSkew(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 1000, PayTime: now.Add(24*time.Hour + 2*time.Second)})

	s, ok := Evaluate(acct, now, 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, int64(1000), s.RefundAmount)
	assert.Equal(t, int64(0), s.PayAmount)
}

func TestEvaluateUsesConfiguredPeriod(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 700, PayTime: now.Add(24 * time.Hour)})

	s, ok := Evaluate(acct, now, 7*24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, int64(100), s.RefundAmount)
	assert.Equal(t, int64(600), s.PayAmount)
}

func TestEvaluateConservesAmount(t *testing.T) {
	amounts := []int64{0, 1, 3, 999, 1000, 123457, 9_000_000_000}
	remainders := []time.Duration{time.Millisecond, time.Second, 7 * time.Minute, 13 * time.Hour, 24 * time.Hour}

	for _, amount := range amounts {
		for _, rem := range remainders {
			acct := accountWith(api.PaymentRecord{Amount: amount, PayTime: now.Add(rem)})
			s, ok := Evaluate(acct, now, 24*time.Hour)
			require.True(t, ok)
			assert.Equal(t, amount, s.RefundAmount+s.PayAmount, "amount=%d remaining=%s", amount, rem)
			assert.GreaterOrEqual(t, s.PayAmount, int64(0))
			want := amount * int64(rem/time.Millisecond) / int64(24*time.Hour/time.Millisecond)
			if amount < 1_000_000 {
				assert.Equal(t, want, s.RefundAmount, "amount=%d remaining=%s", amount, rem)
			}
		}
	}
}

func TestApplyPopsLastAndCreditsLessor(t *testing.T) {
	acct := accountWith(
		api.PaymentRecord{Amount: 10, PayTime: now.Add(-time.Hour)},
		api.PaymentRecord{Amount: 1000, PayTime: now.Add(12 * time.Hour)},
	)

	s, ok := Evaluate(acct, now, 24*time.Hour)
	require.True(t, ok)
	s.Apply(acct)

	assert.Len(t, acct.Payments, 1)
	assert.Equal(t, int64(10+500), acct.MoneyOwed)
}

func TestInstructionCarriesStableKey(t *testing.T) {
	pay := now.Add(time.Hour)
	acct := accountWith(api.PaymentRecord{Amount: 240, PayTime: pay, RefundAddress: "bc1q"})

	s, _ := Evaluate(acct, now, 24*time.Hour)
	instr := s.Instruction()
	assert.Equal(t, "bc1q", instr.Destination)
	assert.Equal(t, int64(10), instr.Amount)

	later, _ := Evaluate(acct, now.Add(time.Minute), 24*time.Hour)
	assert.Equal(t, instr.ID, later.Instruction().ID)
}

func TestProrateFloorsJustBelowWholeUnit(t *testing.T) {
	period := time.Duration(math.MaxInt64)

	assert.Equal(t, int64(999), prorate(1000, period-1, period))
	assert.Equal(t, int64(1000), prorate(1000, period, period))
	assert.Equal(t, int64(0), prorate(0, time.Hour, period))
}

func TestReplayUsesRecordedSplit(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 1000, PayTime: now.Add(12 * time.Hour)})
	first, ok := Evaluate(acct, now, 24*time.Hour)
	require.True(t, ok)

	s, ok := Replay(acct, first.Record())
	require.True(t, ok)
	assert.Equal(t, first, s)
}

func TestReplayRejectsForeignRecord(t *testing.T) {
	acct := accountWith(api.PaymentRecord{Amount: 1000, PayTime: now.Add(12 * time.Hour)})
	key := PaymentKey("dev-1", acct.Payments[0])

	_, ok := Replay(acct, api.RefundRecord{ID: "dev-1:1", RefundAmount: 500, PayAmount: 500})
	assert.False(t, ok)

	_, ok = Replay(acct, api.RefundRecord{ID: key, RefundAmount: 500, PayAmount: 400})
	assert.False(t, ok)

	_, ok = Replay(accountWith(), api.RefundRecord{ID: key, RefundAmount: 500, PayAmount: 500})
	assert.False(t, ok)
}
