package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/monitoring"
	"github.com/abjerry97/p2pvps_server/internal/tools"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome says how a Settle call ended.
type Outcome string

const (
	// OutcomeNoop means there was nothing left to refund.
	OutcomeNoop Outcome = "noop"
	// OutcomeSettled means the refund was accepted and the ledger saved.
	OutcomeSettled Outcome = "settled"
	// OutcomeAlreadyRefunded means the dispatcher no longer knew the refund
	// target, or a previous attempt already dispatched it; the ledger was
	// still saved.
	OutcomeAlreadyRefunded Outcome = "already_refunded"
)

const journalTTL = 7 * 24 * time.Hour

// LedgerStore loads and saves a device's rental account.
type LedgerStore interface {
	LoadAccount(ctx context.Context, deviceID string) (*api.RentalAccount, error)
	SaveAccount(ctx context.Context, account *api.RentalAccount) error
}

// Dispatcher sends refunds to the lessee. A tools.ErrNotFound result means
// the target is already settled.
type Dispatcher interface {
	Refund(ctx context.Context, instr api.RefundInstruction) error
}

// Journal remembers the split of every refund that was handed to the
// dispatcher, so a retry after a failed save commits the same split instead
// of pro-rating again.
type Journal interface {
	DispatchedRefund(ctx context.Context, key string) (*api.RefundRecord, error)
	RecordRefund(ctx context.Context, rec api.RefundRecord, ttl time.Duration) error
}

// Result is what Settle reports back to HTTP callers and workers.
type Result struct {
	Outcome    Outcome     `json:"outcome"`
	DeviceID   string      `json:"device_id"`
	Settlement *Settlement `json:"settlement,omitempty"`
	MoneyOwed  int64       `json:"money_owed"`
}

type Service struct {
	store      LedgerStore
	dispatcher Dispatcher
	journal    Journal
	period     time.Duration
	now        func() time.Time
}

// NewService builds the settlement service. journal may be nil.
func NewService(store LedgerStore, dispatcher Dispatcher, journal Journal, period time.Duration) *Service {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		journal:    journal,
		period:     period,
		now:        time.Now,
	}
}

func (s *Service) Period() time.Duration {
	return s.period
}

// Settle pro-rates the device's most recent payment if its period has not
// elapsed yet. The refund is dispatched before the ledger is saved; callers
// must serialize Settle per device.
//
// A payment whose refund was already journaled is committed with the
// journaled split, whatever the clock says now.
func (s *Service) Settle(ctx context.Context, deviceID string) (*Result, error) {
	ctx, span := otel.Tracer("refund").Start(ctx, "settle")
	defer span.End()
	span.SetAttributes(attribute.String("device.id", deviceID))

	account, err := s.store.LoadAccount(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", deviceID, err)
	}

	if settlement, ok := s.journaled(ctx, account); ok {
		logger := settlementLogger(settlement)
		logger.Info("Refund already dispatched, committing ledger only")
		return s.commit(ctx, span, account, settlement, OutcomeAlreadyRefunded, logger)
	}

	settlement, ok := Evaluate(account, s.now(), s.period)
	if !ok {
		monitoring.SettlementsTotal.WithLabelValues(string(OutcomeNoop)).Inc()
		return &Result{Outcome: OutcomeNoop, DeviceID: deviceID, MoneyOwed: account.MoneyOwed}, nil
	}

	logger := settlementLogger(settlement)
	outcome, err := s.dispatch(ctx, settlement, logger)
	if err != nil {
		monitoring.SettlementsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	return s.commit(ctx, span, account, settlement, outcome, logger)
}

func (s *Service) commit(ctx context.Context, span trace.Span, account *api.RentalAccount, settlement Settlement, outcome Outcome, logger *log.Entry) (*Result, error) {
	settlement.Apply(account)
	if err := s.store.SaveAccount(ctx, account); err != nil {
		monitoring.SettlementsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("save account %s: %w", account.DeviceID, err)
	}

	monitoring.SettlementsTotal.WithLabelValues(string(outcome)).Inc()
	monitoring.LessorPaidUnitsTotal.Add(float64(settlement.PayAmount))
	if outcome == OutcomeSettled {
		monitoring.RefundedUnitsTotal.Add(float64(settlement.RefundAmount))
	}
	span.SetAttributes(
		attribute.String("settlement.outcome", string(outcome)),
		attribute.Int64("settlement.refund", settlement.RefundAmount),
	)
	logger.WithField("outcome", outcome).Info("Rental pro-rated")

	return &Result{
		Outcome:    outcome,
		DeviceID:   account.DeviceID,
		Settlement: &settlement,
		MoneyOwed:  account.MoneyOwed,
	}, nil
}

// journaled looks up the last payment in the refund journal. Lookup failures
// fall through to a fresh evaluation; the dispatcher still dedupes on the
// instruction ID.
func (s *Service) journaled(ctx context.Context, account *api.RentalAccount) (Settlement, bool) {
	n := len(account.Payments)
	if s.journal == nil || n == 0 {
		return Settlement{}, false
	}

	key := PaymentKey(account.DeviceID, account.Payments[n-1])
	rec, err := s.journal.DispatchedRefund(ctx, key)
	if err != nil {
		log.WithField("device_id", account.DeviceID).Warnf("Refund journal lookup failed: %v", err)
		return Settlement{}, false
	}
	if rec == nil {
		return Settlement{}, false
	}

	settlement, ok := Replay(account, *rec)
	if !ok {
		log.WithFields(log.Fields{"device_id": account.DeviceID, "key": key}).Error("Journaled refund does not match payment")
	}
	return settlement, ok
}

func (s *Service) dispatch(ctx context.Context, settlement Settlement, logger *log.Entry) (Outcome, error) {
	outcome := OutcomeSettled

	// Zero-amount instructions are never sent; the lessor still gets the
	// whole payment.
	if settlement.RefundAmount > 0 {
		err := s.dispatcher.Refund(ctx, settlement.Instruction())
		if errors.Is(err, tools.ErrNotFound) {
			logger.Info("Refund target already settled")
			outcome = OutcomeAlreadyRefunded
		} else if err != nil {
			return "", fmt.Errorf("dispatch refund %s: %w", settlement.Key(), err)
		}
	}

	if s.journal != nil {
		if err := s.journal.RecordRefund(ctx, settlement.Record(), journalTTL); err != nil {
			logger.Errorf("Failed to journal refund: %v", err)
		}
	}
	return outcome, nil
}

func settlementLogger(settlement Settlement) *log.Entry {
	return log.WithFields(log.Fields{
		"device_id":     settlement.DeviceID,
		"refund_amount": settlement.RefundAmount,
		"pay_amount":    settlement.PayAmount,
		"remaining":     settlement.Remaining.String(),
	})
}
