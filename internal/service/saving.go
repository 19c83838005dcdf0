package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/openwallet/ewallet-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SavingService owns the term-deposit state machine: daily interest accrual
// while ACTIVE, and the one-way transition to INACTIVE that pays the
// accumulated amount out to the linked payment account.
type SavingService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewSavingService returns the saving-account service.
func NewSavingService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *SavingService {
	return &SavingService{repo: r, log: logger}
}

func daysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// AccrueDaily adds one day of simple interest on the initial amount:
// initial * (annualRate/100) / daysInYear. At most one accrual is applied
// per calendar day; later calls the same day are no-ops.
func (s *SavingService) AccrueDaily(ctx context.Context, savingID uint64, today time.Time) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		sa, err := s.repo.GetSavingAccountForUpdate(ctx, tx, savingID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrAccountNotFound, savingID)
			}
			return err
		}
		if sa.Status != model.AccountStatusActive {
			return domainErr(ErrSavingInactive, savingID)
		}
		if sa.LastAccrualDate != nil && sameDay(*sa.LastAccrualDate, today) {
			return nil
		}
		rate, err := s.repo.GetInterestRate(ctx, tx, sa.InterestRateID)
		if err != nil {
			return err
		}
		daily := sa.InitialAmount.
			Mul(decimal.NewFromFloat(rate.AnnualRate)).
			Div(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(daysInYear(today.Year()))))
		sa.CurrentAmount = sa.CurrentAmount.Add(daily)
		sa.LastAccrualDate = &today
		return s.repo.UpdateSavingAccount(ctx, tx, sa, sa.Version)
	})
}

// DeactivateAndWithdraw is the maturity/early-exit transition: the full
// current amount moves to the linked payment account, initial/10000 reward
// points are credited, the saving account is zeroed and marked INACTIVE, and
// a COMPLETED withdrawal transaction is recorded. The INACTIVE state is
// terminal.
func (s *SavingService) DeactivateAndWithdraw(ctx context.Context, savingID uint64) (*model.Transaction, error) {
	var recorded *model.Transaction
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		sa, err := s.repo.GetSavingAccountForUpdate(ctx, tx, savingID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrAccountNotFound, savingID)
			}
			return err
		}
		if sa.Status != model.AccountStatusActive {
			return domainErr(ErrSavingInactive, savingID)
		}
		pa, err := s.repo.GetPaymentAccountForUpdate(ctx, tx, sa.PaymentAccountID)
		if err != nil {
			return err
		}

		payout := sa.CurrentAmount
		points := sa.InitialAmount.Div(decimal.NewFromInt(10000)).IntPart()
		if err := s.repo.UpdatePaymentAccount(ctx, tx, pa.ID,
			pa.Balance.Add(payout), pa.RewardPoints+points, pa.Version); err != nil {
			return err
		}

		version := sa.Version
		sa.CurrentAmount = decimal.Zero
		sa.Status = model.AccountStatusInactive
		if err := s.repo.UpdateSavingAccount(ctx, tx, sa, version); err != nil {
			return err
		}

		t := &model.Transaction{
			Reference:    uuid.New().String(),
			Type:         model.TypeWithdrawFromSAToPA,
			AmountType:   model.AmountMoney,
			Amount:       payout,
			Status:       model.StatusCompleted,
			SenderID:     sa.ID,
			SenderType:   model.AccountSaving,
			ReceiverID:   pa.ID,
			ReceiverType: model.AccountPayment,
			Timestamp:    time.Now(),
		}
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		link := &model.TransactionCustomer{
			TransactionID:      t.ID,
			CustomerID:         pa.CustomerID,
			ReceiverCustomerID: pa.CustomerID,
		}
		if err := s.repo.CreateTransactionCustomer(ctx, tx, link); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"saving_account_id":  sa.ID,
			"payment_account_id": pa.ID,
			"payout":             payout,
			"reward_points":      points,
		})
		evt := &model.OutboxEvent{
			Aggregate: "SavingAccount", AggregateID: sa.ID,
			EventType: model.EventSavingMatured, Payload: string(payload),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		recorded = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

// RunDaily accrues interest for every active saving account and pays out the
// ones that reached end of term. Driven by cmd/accrual once a day.
func (s *SavingService) RunDaily(ctx context.Context, today time.Time) error {
	sas, err := s.repo.ListActiveSavingAccounts(ctx)
	if err != nil {
		return err
	}
	for i := range sas {
		if err := s.AccrueDaily(ctx, sas[i].ID, today); err != nil {
			s.log.Errorf("accrue saving %d: %v", sas[i].ID, err)
			continue
		}
		if sas[i].IsEndOfTerm(today) {
			if _, err := s.DeactivateAndWithdraw(ctx, sas[i].ID); err != nil {
				s.log.Errorf("mature saving %d: %v", sas[i].ID, err)
			}
		}
	}
	return nil
}
