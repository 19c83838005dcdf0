package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/openwallet/ewallet-service/internal/otp"
	"github.com/openwallet/ewallet-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine drives the transaction lifecycle: create a PENDING record, bind it
// to concrete accounts, and on OTP confirmation apply the balance deltas and
// finalize the status. All balance mutation in the service happens here or
// in SavingService, never outside.
type Engine struct {
	repo     repo.RepositoryInterface
	sweeper  *Sweeper
	log      *zap.SugaredLogger
	validate *validator.Validate
}

// NewEngine returns the transaction engine.
func NewEngine(r repo.RepositoryInterface, sweeper *Sweeper, logger *zap.SugaredLogger) *Engine {
	return &Engine{repo: r, sweeper: sweeper, log: logger, validate: validator.New()}
}

// CreateTransactionRequest is the intent supplied by the caller. For the
// four payment/bank transfer variants the account ids may stay zero here and
// be bound later by ResolveTransferRoute; saving-account top-up and withdraw
// paths carry them from the start.
type CreateTransactionRequest struct {
	Type         model.TransactionType `json:"type" validate:"required"`
	AmountType   model.AmountType      `json:"amount_type" validate:"required"`
	Amount       decimal.Decimal       `json:"amount"`
	SenderType   model.AccountType     `json:"sender_type" validate:"required"`
	ReceiverType model.AccountType     `json:"receiver_type" validate:"required"`
	SenderID     uint64                `json:"sender_id"`
	ReceiverID   uint64                `json:"receiver_id"`
}

// CreatePending validates the request, reclaims expired pendings of the same
// type, and persists a fresh PENDING transaction plus its customer link.
func (e *Engine) CreatePending(ctx context.Context, customerID uint64, req CreateTransactionRequest) (*model.Transaction, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, domainErr(ErrInvalidTransactionField, 0)
	}
	if !model.ValidTransactionType(req.Type) || !model.ValidAmountType(req.AmountType) ||
		!model.ValidAccountType(req.SenderType) || !model.ValidAccountType(req.ReceiverType) {
		return nil, domainErr(ErrInvalidTransactionField, 0)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domainAmountErr(ErrInvalidAmount, 0, req.Amount)
	}

	if _, err := e.sweeper.ReapExpiredPending(ctx, customerID, req.Type); err != nil {
		return nil, err
	}

	t := &model.Transaction{
		Reference:    uuid.New().String(),
		Type:         req.Type,
		AmountType:   req.AmountType,
		Amount:       req.Amount,
		Status:       model.StatusPending,
		SenderType:   req.SenderType,
		SenderID:     req.SenderID,
		ReceiverType: req.ReceiverType,
		ReceiverID:   req.ReceiverID,
		Timestamp:    time.Now(),
	}
	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if req.SenderID != 0 {
			owner, err := e.repo.OwningCustomer(ctx, tx, req.SenderType, req.SenderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainErr(ErrAccountNotFound, req.SenderID)
				}
				return err
			}
			if owner != customerID {
				return domainErr(ErrTransactionOwnershipMismatch, req.SenderID)
			}
		}
		if err := e.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		receiverCustomer := uint64(0)
		if req.ReceiverID != 0 {
			owner, err := e.repo.OwningCustomer(ctx, tx, req.ReceiverType, req.ReceiverID)
			if err == nil {
				receiverCustomer = owner
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			// deposits land only in the customer's own saving account
			if req.ReceiverType == model.AccountSaving {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainErr(ErrAccountNotFound, req.ReceiverID)
				}
				if owner != customerID {
					return domainErr(ErrTransactionOwnershipMismatch, req.ReceiverID)
				}
			}
		}
		link := &model.TransactionCustomer{
			TransactionID:      t.ID,
			CustomerID:         customerID,
			ReceiverCustomerID: receiverCustomer,
		}
		return e.repo.CreateTransactionCustomer(ctx, tx, link)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ResolveTransferRoute binds a pending transfer to concrete sender and
// receiver accounts. One parameterized path serves all four
// payment/bank combinations; no balance is touched here.
func (e *Engine) ResolveTransferRoute(ctx context.Context, customerID, txID, senderID, receiverID uint64, senderKind, receiverKind model.AccountType) (*model.Transaction, error) {
	if senderKind == model.AccountSaving || receiverKind == model.AccountSaving ||
		!model.ValidAccountType(senderKind) || !model.ValidAccountType(receiverKind) {
		return nil, domainErr(ErrInvalidTransactionField, txID)
	}

	var bound *model.Transaction
	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := e.repo.GetTransaction(ctx, tx, txID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrTransactionNotFound, txID)
			}
			return err
		}
		if t.Final() {
			return domainErr(ErrTransactionFinalized, txID)
		}
		link, err := e.repo.GetTransactionCustomer(ctx, tx, txID, customerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrTransactionOwnershipMismatch, txID)
			}
			return err
		}

		if err := e.checkSenderOwnership(ctx, tx, customerID, senderKind, senderID); err != nil {
			return err
		}
		receiverCustomer, err := e.checkReceiver(ctx, tx, receiverKind, receiverID)
		if err != nil {
			return err
		}
		if senderKind == model.AccountPayment && receiverKind == model.AccountPayment &&
			receiverCustomer == customerID {
			return domainErr(ErrSelfTransferForbidden, receiverID)
		}

		t.SenderID, t.SenderType = senderID, senderKind
		t.ReceiverID, t.ReceiverType = receiverID, receiverKind
		t.Timestamp = time.Now()
		if err := e.repo.SaveTransaction(ctx, tx, t); err != nil {
			return err
		}
		if link.ReceiverCustomerID != receiverCustomer {
			if err := tx.WithContext(ctx).Model(&model.TransactionCustomer{}).
				Where("transaction_id = ? AND customer_id = ?", txID, customerID).
				Update("receiver_customer_id", receiverCustomer).Error; err != nil {
				return err
			}
		}
		bound = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bound, nil
}

// checkSenderOwnership verifies the sender account belongs to, or is linked
// to, the initiating customer.
func (e *Engine) checkSenderOwnership(ctx context.Context, tx *gorm.DB, customerID uint64, kind model.AccountType, id uint64) error {
	switch kind {
	case model.AccountPayment:
		var pa model.PaymentAccount
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&pa).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrAccountNotFound, id)
			}
			return err
		}
		if pa.CustomerID != customerID {
			return domainErr(ErrTransactionOwnershipMismatch, id)
		}
	case model.AccountBank:
		var ba model.BankAccount
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&ba).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrAccountNotFound, id)
			}
			return err
		}
		if !ba.Linked() {
			return domainErr(ErrAccountNotLinked, id)
		}
		owner, err := e.repo.OwningCustomer(ctx, tx, model.AccountBank, id)
		if err != nil {
			return err
		}
		if owner != customerID {
			return domainErr(ErrTransactionOwnershipMismatch, id)
		}
	}
	return nil
}

// checkReceiver verifies the receiver exists (and, for bank accounts, is
// linked) and resolves its owning customer.
func (e *Engine) checkReceiver(ctx context.Context, tx *gorm.DB, kind model.AccountType, id uint64) (uint64, error) {
	switch kind {
	case model.AccountBank:
		var ba model.BankAccount
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&ba).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, domainErr(ErrAccountNotFound, id)
			}
			return 0, err
		}
		if !ba.Linked() {
			return 0, domainErr(ErrAccountNotLinked, id)
		}
	default:
		var pa model.PaymentAccount
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&pa).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, domainErr(ErrAccountNotFound, id)
			}
			return 0, err
		}
	}
	owner, err := e.repo.OwningCustomer(ctx, tx, kind, id)
	if err != nil {
		return 0, err
	}
	return owner, nil
}

// CompleteTransfer applies the balance deltas for a confirmed transaction and
// marks it COMPLETED, all inside one database transaction. An insufficient
// sender balance persists FAILED instead and surfaces a typed error; no
// partial leg is ever applied.
func (e *Engine) CompleteTransfer(ctx context.Context, customerID, txID uint64) (*model.TransactionCustomer, error) {
	var (
		link      *model.TransactionCustomer
		txType    model.TransactionType
		domainRes error
	)
	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := e.repo.GetTransaction(ctx, tx, txID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrTransactionNotFound, txID)
			}
			return err
		}
		if t.Final() {
			return domainErr(ErrTransactionFinalized, txID)
		}
		link, err = e.repo.GetTransactionCustomer(ctx, tx, txID, customerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrTransactionOwnershipMismatch, txID)
			}
			return err
		}
		txType = t.Type

		// the self-transfer guard must hold here too: accounts bound at
		// create time never pass through ResolveTransferRoute
		if t.SenderType == model.AccountPayment && t.ReceiverType == model.AccountPayment &&
			t.SenderID != 0 && t.ReceiverID != 0 {
			senderOwner, err := e.repo.OwningCustomer(ctx, tx, t.SenderType, t.SenderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainErr(ErrAccountNotFound, t.SenderID)
				}
				return err
			}
			receiverOwner, err := e.repo.OwningCustomer(ctx, tx, t.ReceiverType, t.ReceiverID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainErr(ErrAccountNotFound, t.ReceiverID)
				}
				return err
			}
			if senderOwner == receiverOwner {
				return domainErr(ErrSelfTransferForbidden, t.ReceiverID)
			}
		}

		applyErr := e.applyBalances(ctx, tx, t)
		if applyErr != nil {
			var de *DomainError
			if errors.As(applyErr, &de) &&
				(errors.Is(de.Kind, ErrInsufficientBankBalance) || errors.Is(de.Kind, ErrInsufficientBalance)) {
				// persist FAILED, commit, and surface the typed error
				if err := e.markFailed(ctx, tx, t); err != nil {
					return err
				}
				domainRes = applyErr
				return nil
			}
			return applyErr
		}

		t.Status = model.StatusCompleted
		t.Timestamp = time.Now()
		if err := e.repo.SaveTransaction(ctx, tx, t); err != nil {
			return err
		}
		return e.writeOutbox(ctx, tx, t, model.EventTransactionCompleted)
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.sweeper.ReapExpiredPending(ctx, customerID, txType); err != nil {
		e.log.Warnf("post-completion sweep: %v", err)
	}
	if domainRes != nil {
		return nil, domainRes
	}
	return link, nil
}

// FailTransfer marks a pending transaction FAILED. Used on OTP exhaustion and
// expiry; finalized transactions are left untouched.
func (e *Engine) FailTransfer(ctx context.Context, customerID, txID uint64) (*model.Transaction, error) {
	var failed *model.Transaction
	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := e.repo.GetTransaction(ctx, tx, txID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrTransactionNotFound, txID)
			}
			return err
		}
		if t.Final() {
			return domainErr(ErrTransactionFinalized, txID)
		}
		if _, err := e.repo.GetTransactionCustomer(ctx, tx, txID, customerID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErr(ErrTransactionOwnershipMismatch, txID)
			}
			return err
		}
		if err := e.markFailed(ctx, tx, t); err != nil {
			return err
		}
		failed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.sweeper.ReapExpiredPending(ctx, customerID, failed.Type); err != nil {
		e.log.Warnf("post-failure sweep: %v", err)
	}
	return failed, nil
}

func (e *Engine) markFailed(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	t.Status = model.StatusFailed
	t.Timestamp = time.Now()
	if err := e.repo.SaveTransaction(ctx, tx, t); err != nil {
		return err
	}
	return e.writeOutbox(ctx, tx, t, model.EventTransactionFailed)
}

func (e *Engine) writeOutbox(ctx context.Context, tx *gorm.DB, t *model.Transaction, eventType string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"transaction_id": t.ID,
		"reference":      t.Reference,
		"type":           t.Type,
		"amount":         t.Amount,
		"status":         t.Status,
	})
	evt := &model.OutboxEvent{
		Aggregate: "Transaction", AggregateID: t.ID, EventType: eventType, Payload: string(payload),
	}
	return e.repo.CreateOutboxEvent(ctx, tx, evt)
}

// leg is one side of a movement, resolved to a lockable account row.
type leg struct {
	kind model.AccountType
	id   uint64
}

func lockRank(k model.AccountType) int {
	switch k {
	case model.AccountPayment:
		return 0
	case model.AccountBank:
		return 1
	default:
		return 2
	}
}

// applyBalances debits the sender and credits the receiver for any of the
// supported (senderType, receiverType) pairs, crediting reward points to the
// sender-side payment account. Lock order is deterministic by (kind, id) so
// concurrent completions touching the same accounts cannot deadlock.
func (e *Engine) applyBalances(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	if t.SenderID == 0 || t.ReceiverID == 0 {
		return domainErr(ErrAccountNotFound, t.ID)
	}
	sender := leg{t.SenderType, t.SenderID}
	receiver := leg{t.ReceiverType, t.ReceiverID}

	ordered := []leg{sender, receiver}
	if lockRank(ordered[1].kind) < lockRank(ordered[0].kind) ||
		(lockRank(ordered[1].kind) == lockRank(ordered[0].kind) && ordered[1].id < ordered[0].id) {
		ordered[0], ordered[1] = ordered[1], ordered[0]
	}

	locked := map[leg]interface{}{}
	for _, l := range ordered {
		acc, err := e.lockLeg(ctx, tx, l)
		if err != nil {
			return err
		}
		locked[l] = acc
	}

	amount := t.Amount
	rewardPA := uint64(0) // payment account earning points, 0 when none

	// debit the sender leg
	switch s := locked[sender].(type) {
	case *model.PaymentAccount:
		if s.Balance.LessThan(amount) {
			return domainAmountErr(ErrInsufficientBalance, s.ID, amount)
		}
		points := s.RewardPoints
		if t.ReceiverType != model.AccountSaving {
			points += rewardFor(amount)
		}
		if err := e.repo.UpdatePaymentAccount(ctx, tx, s.ID, s.Balance.Sub(amount), points, s.Version); err != nil {
			return err
		}
		e.cacheWarn(ctx, s.ID, s.Balance.Sub(amount))
	case *model.BankAccount:
		if s.Balance.LessThan(amount) {
			return domainAmountErr(ErrInsufficientBankBalance, s.ID, amount)
		}
		if err := e.repo.UpdateBankAccountBalance(ctx, tx, s.ID, s.Balance.Sub(amount), s.Version); err != nil {
			return err
		}
		if s.PaymentAccountID != nil {
			rewardPA = *s.PaymentAccountID
		}
	case *model.SavingAccount:
		if s.Status != model.AccountStatusActive {
			return domainErr(ErrSavingInactive, s.ID)
		}
		if s.CurrentAmount.LessThan(amount) {
			return domainAmountErr(ErrInsufficientBalance, s.ID, amount)
		}
		s.CurrentAmount = s.CurrentAmount.Sub(amount)
		if err := e.repo.UpdateSavingAccount(ctx, tx, s, s.Version); err != nil {
			return err
		}
	}

	// credit the receiver leg
	switch r := locked[receiver].(type) {
	case *model.PaymentAccount:
		if err := e.repo.UpdatePaymentAccount(ctx, tx, r.ID, r.Balance.Add(amount), r.RewardPoints, r.Version); err != nil {
			return err
		}
		e.cacheWarn(ctx, r.ID, r.Balance.Add(amount))
	case *model.BankAccount:
		if err := e.repo.UpdateBankAccountBalance(ctx, tx, r.ID, r.Balance.Add(amount), r.Version); err != nil {
			return err
		}
	case *model.SavingAccount:
		if r.Status != model.AccountStatusActive {
			return domainErr(ErrSavingInactive, r.ID)
		}
		r.CurrentAmount = r.CurrentAmount.Add(amount)
		if err := e.repo.UpdateSavingAccount(ctx, tx, r, r.Version); err != nil {
			return err
		}
	}

	// bank-account senders earn points on their linked payment account
	if rewardPA != 0 && sender.kind == model.AccountBank {
		pa, err := e.repo.GetPaymentAccountForUpdate(ctx, tx, rewardPA)
		if err != nil {
			return err
		}
		if err := e.repo.UpdatePaymentAccount(ctx, tx, pa.ID, pa.Balance, pa.RewardPoints+rewardFor(amount), pa.Version); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) lockLeg(ctx context.Context, tx *gorm.DB, l leg) (interface{}, error) {
	var (
		acc interface{}
		err error
	)
	switch l.kind {
	case model.AccountPayment:
		acc, err = e.repo.GetPaymentAccountForUpdate(ctx, tx, l.id)
	case model.AccountBank:
		acc, err = e.repo.GetBankAccountForUpdate(ctx, tx, l.id)
	case model.AccountSaving:
		acc, err = e.repo.GetSavingAccountForUpdate(ctx, tx, l.id)
	default:
		return nil, domainErr(ErrInvalidTransactionField, l.id)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErr(ErrAccountNotFound, l.id)
		}
		return nil, err
	}
	return acc, nil
}

// rewardFor returns 10% of the amount as points, rounded to nearest integer.
func rewardFor(amount decimal.Decimal) int64 {
	return amount.Div(decimal.NewFromInt(10)).Round(0).IntPart()
}

func (e *Engine) cacheWarn(ctx context.Context, accountID uint64, bal decimal.Decimal) {
	if err := e.repo.CacheBalance(ctx, accountID, bal); err != nil {
		e.log.Warnf("cache balance for account %d: %v", accountID, err)
	}
}

// GetOwnedTransaction fetches a transaction after verifying the customer link.
func (e *Engine) GetOwnedTransaction(ctx context.Context, customerID, txID uint64) (*model.Transaction, error) {
	t, err := e.repo.GetTransaction(ctx, e.repo.DB(ctx), txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErr(ErrTransactionNotFound, txID)
		}
		return nil, err
	}
	if _, err := e.repo.GetTransactionCustomer(ctx, e.repo.DB(ctx), txID, customerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErr(ErrTransactionOwnershipMismatch, txID)
		}
		return nil, err
	}
	return t, nil
}

// DefaultAccountPrecheck is advisory state for the caller's UI: whether the
// DEFAULT payment account alone covers the requested amount. It is an
// explicit return value, never shared state, and never an error.
type DefaultAccountPrecheck struct {
	Covered bool            `json:"covered"`
	Balance decimal.Decimal `json:"balance"`
}

// PrecheckDefaultAccount compares the amount against the customer's DEFAULT
// payment account balance.
func (e *Engine) PrecheckDefaultAccount(ctx context.Context, customerID uint64, amount decimal.Decimal) (DefaultAccountPrecheck, error) {
	pa, err := e.repo.GetDefaultPaymentAccount(ctx, e.repo.DB(ctx), customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultAccountPrecheck{}, domainErr(ErrAccountNotFound, customerID)
		}
		return DefaultAccountPrecheck{}, err
	}
	return DefaultAccountPrecheck{
		Covered: pa.Balance.GreaterThanOrEqual(amount),
		Balance: pa.Balance,
	}, nil
}

// OTPPurpose maps a transaction type to the OTP purpose that must verify it.
func OTPPurpose(t model.TransactionType) string {
	switch t {
	case model.TypeAddFromBAToPA, model.TypeAddFromPAToSA:
		return otp.PurposeTopUp
	case model.TypeWithdrawFromPAToBA, model.TypeWithdrawFromSAToPA:
		return otp.PurposeWithdraw
	default:
		return otp.PurposeTransfer
	}
}
