package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleVersion is returned when an optimistic balance update loses the race.
var ErrStaleVersion = errors.New("optimistic lock conflict")

// RepositoryInterface restricts Repo methods so services can be unit-tested
// against a mock.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetPaymentAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.PaymentAccount, error)
	GetDefaultPaymentAccount(ctx context.Context, tx *gorm.DB, customerID uint64) (*model.PaymentAccount, error)
	UpdatePaymentAccount(ctx context.Context, tx *gorm.DB, id uint64, balance decimal.Decimal, points int64, oldVersion uint64) error

	GetBankAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.BankAccount, error)
	UpdateBankAccountBalance(ctx context.Context, tx *gorm.DB, id uint64, balance decimal.Decimal, oldVersion uint64) error

	GetSavingAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.SavingAccount, error)
	UpdateSavingAccount(ctx context.Context, tx *gorm.DB, sa *model.SavingAccount, oldVersion uint64) error
	ListActiveSavingAccounts(ctx context.Context) ([]model.SavingAccount, error)
	GetInterestRate(ctx context.Context, tx *gorm.DB, id uint64) (*model.InterestRate, error)

	OwningCustomer(ctx context.Context, tx *gorm.DB, kind model.AccountType, id uint64) (uint64, error)
	GetCustomer(ctx context.Context, id uint64) (*model.Customer, error)

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	GetTransaction(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error)
	SaveTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	DeleteTransaction(ctx context.Context, tx *gorm.DB, id uint64) error

	CreateTransactionCustomer(ctx context.Context, tx *gorm.DB, link *model.TransactionCustomer) error
	GetTransactionCustomer(ctx context.Context, tx *gorm.DB, txID, customerID uint64) (*model.TransactionCustomer, error)
	DeleteTransactionCustomer(ctx context.Context, tx *gorm.DB, txID uint64) error
	ListExpiredPending(ctx context.Context, tx *gorm.DB, customerID uint64, txType model.TransactionType, cutoff time.Time) ([]model.Transaction, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, accountID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, accountID uint64) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetPaymentAccountForUpdate locks the payment-account row.
func (r *Repository) GetPaymentAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.PaymentAccount, error) {
	var pa model.PaymentAccount
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&pa).Error; err != nil {
		return nil, err
	}
	return &pa, nil
}

// GetDefaultPaymentAccount fetches the customer's DEFAULT account (no lock).
func (r *Repository) GetDefaultPaymentAccount(ctx context.Context, tx *gorm.DB, customerID uint64) (*model.PaymentAccount, error) {
	var pa model.PaymentAccount
	if err := tx.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, model.AccountStatusDefault).
		First(&pa).Error; err != nil {
		return nil, err
	}
	return &pa, nil
}

// UpdatePaymentAccount writes balance and reward points with optimistic lock.
func (r *Repository) UpdatePaymentAccount(ctx context.Context, tx *gorm.DB, id uint64, balance decimal.Decimal, points int64, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.PaymentAccount{}).
		Where("id = ? AND version = ?", id, oldVersion).
		Updates(map[string]interface{}{
			"balance":       balance,
			"reward_points": points,
			"version":       oldVersion + 1,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

// GetBankAccountForUpdate locks the bank-account row.
func (r *Repository) GetBankAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.BankAccount, error) {
	var ba model.BankAccount
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&ba).Error; err != nil {
		return nil, err
	}
	return &ba, nil
}

// UpdateBankAccountBalance writes the mirrored bank balance with optimistic lock.
func (r *Repository) UpdateBankAccountBalance(ctx context.Context, tx *gorm.DB, id uint64, balance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.BankAccount{}).
		Where("id = ? AND version = ?", id, oldVersion).
		Updates(map[string]interface{}{
			"balance":    balance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

// GetSavingAccountForUpdate locks the saving-account row.
func (r *Repository) GetSavingAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.SavingAccount, error) {
	var sa model.SavingAccount
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&sa).Error; err != nil {
		return nil, err
	}
	return &sa, nil
}

// UpdateSavingAccount persists amount/status/accrual fields with optimistic lock.
func (r *Repository) UpdateSavingAccount(ctx context.Context, tx *gorm.DB, sa *model.SavingAccount, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.SavingAccount{}).
		Where("id = ? AND version = ?", sa.ID, oldVersion).
		Updates(map[string]interface{}{
			"current_amount":    sa.CurrentAmount,
			"status":            sa.Status,
			"last_accrual_date": sa.LastAccrualDate,
			"version":           oldVersion + 1,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

// ListActiveSavingAccounts feeds the daily accrual job.
func (r *Repository) ListActiveSavingAccounts(ctx context.Context) ([]model.SavingAccount, error) {
	var sas []model.SavingAccount
	err := r.db.WithContext(ctx).
		Where("status = ?", model.AccountStatusActive).
		Find(&sas).Error
	return sas, err
}

// GetInterestRate fetches a rate row.
func (r *Repository) GetInterestRate(ctx context.Context, tx *gorm.DB, id uint64) (*model.InterestRate, error) {
	var ir model.InterestRate
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&ir).Error; err != nil {
		return nil, err
	}
	return &ir, nil
}

// OwningCustomer resolves the customer owning an account of the given kind.
// Returns 0 without error when the account exists but is not attached to a
// customer (an unlinked bank account).
func (r *Repository) OwningCustomer(ctx context.Context, tx *gorm.DB, kind model.AccountType, id uint64) (uint64, error) {
	switch kind {
	case model.AccountPayment:
		return r.paymentAccountOwner(ctx, tx, id)
	case model.AccountBank:
		return r.bankAccountOwner(ctx, tx, id)
	case model.AccountSaving:
		return r.savingAccountOwner(ctx, tx, id)
	}
	return 0, fmt.Errorf("unknown account type %q", kind)
}

func (r *Repository) paymentAccountOwner(ctx context.Context, tx *gorm.DB, id uint64) (uint64, error) {
	var pa model.PaymentAccount
	if err := tx.WithContext(ctx).Select("customer_id").Where("id = ?", id).First(&pa).Error; err != nil {
		return 0, err
	}
	return pa.CustomerID, nil
}

func (r *Repository) bankAccountOwner(ctx context.Context, tx *gorm.DB, id uint64) (uint64, error) {
	var ba model.BankAccount
	if err := tx.WithContext(ctx).Select("payment_account_id").Where("id = ?", id).First(&ba).Error; err != nil {
		return 0, err
	}
	if ba.PaymentAccountID == nil {
		return 0, nil
	}
	return r.paymentAccountOwner(ctx, tx, *ba.PaymentAccountID)
}

func (r *Repository) savingAccountOwner(ctx context.Context, tx *gorm.DB, id uint64) (uint64, error) {
	var sa model.SavingAccount
	if err := tx.WithContext(ctx).Select("payment_account_id").Where("id = ?", id).First(&sa).Error; err != nil {
		return 0, err
	}
	return r.paymentAccountOwner(ctx, tx, sa.PaymentAccountID)
}

// GetCustomer fetches contact identity for notification delivery.
func (r *Repository) GetCustomer(ctx context.Context, id uint64) (*model.Customer, error) {
	var c model.Customer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// GetTransaction fetches by primary key.
func (r *Repository) GetTransaction(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTransaction persists all fields of an existing record.
func (r *Repository) SaveTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Save(t).Error
}

// DeleteTransaction removes a reclaimed pending record.
func (r *Repository) DeleteTransaction(ctx context.Context, tx *gorm.DB, id uint64) error {
	return tx.WithContext(ctx).Delete(&model.Transaction{}, "id = ?", id).Error
}

// CreateTransactionCustomer writes the initiator/receiver link row.
func (r *Repository) CreateTransactionCustomer(ctx context.Context, tx *gorm.DB, link *model.TransactionCustomer) error {
	return tx.WithContext(ctx).Create(link).Error
}

// GetTransactionCustomer fetches the link for a customer+transaction pair.
func (r *Repository) GetTransactionCustomer(ctx context.Context, tx *gorm.DB, txID, customerID uint64) (*model.TransactionCustomer, error) {
	var link model.TransactionCustomer
	if err := tx.WithContext(ctx).
		Where("transaction_id = ? AND customer_id = ?", txID, customerID).
		First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// DeleteTransactionCustomer removes the link row. Must run before the
// transaction row itself is deleted.
func (r *Repository) DeleteTransactionCustomer(ctx context.Context, tx *gorm.DB, txID uint64) error {
	return tx.WithContext(ctx).Delete(&model.TransactionCustomer{}, "transaction_id = ?", txID).Error
}

// ListExpiredPending returns PENDING transactions of the type, older than
// cutoff, whose link belongs to the customer.
func (r *Repository) ListExpiredPending(ctx context.Context, tx *gorm.DB, customerID uint64, txType model.TransactionType, cutoff time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := tx.WithContext(ctx).
		Joins("JOIN transactions_customers tc ON tc.transaction_id = transactions.id").
		Where("tc.customer_id = ? AND transactions.type = ? AND transactions.status = ? AND transactions.timestamp < ?",
			customerID, txType, model.StatusPending, cutoff).
		Find(&txs).Error
	return txs, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, accountID uint64, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, fmt.Sprintf("balance:%d", accountID), bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, accountID uint64) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("balance:%d", accountID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
