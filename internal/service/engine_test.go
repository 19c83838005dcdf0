package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openwallet/ewallet-service/internal/logger"
	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/openwallet/ewallet-service/internal/repo"
)

type testEnv struct {
	db      *gorm.DB
	repo    *repo.Repository
	engine  *Engine
	saving  *SavingService
	sweeper *Sweeper
	history *HistoryService
}

func newTestEnv(t *testing.T) (*testEnv, context.Context) {
	t.Helper()
	// SQLite in-memory DB, one per test
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Customer{}, &model.PaymentAccount{}, &model.BankAccount{},
		&model.SavingAccount{}, &model.InterestRate{},
		&model.Transaction{}, &model.TransactionCustomer{}, &model.OutboxEvent{},
	))

	// Redis mock without expectations: cache writes fail and get logged as
	// warnings, which is the degraded path the engine tolerates.
	rdb, _ := redismock.NewClientMock()

	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	sweeper := NewSweeper(repository, 5*time.Minute, log)
	env := &testEnv{
		db:      db,
		repo:    repository,
		engine:  NewEngine(repository, sweeper, log),
		saving:  NewSavingService(repository, log),
		sweeper: sweeper,
		history: NewHistoryService(repository, log),
	}
	return env, context.Background()
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// seedCustomers creates two customers, each with one DEFAULT payment account.
func seedCustomers(t *testing.T, env *testEnv) {
	t.Helper()
	assert.NoError(t, env.db.Create(&model.Customer{ID: 1, Name: "An", Email: "an@example.com", Phone: "0901"}).Error)
	assert.NoError(t, env.db.Create(&model.Customer{ID: 2, Name: "Binh", Email: "binh@example.com", Phone: "0902"}).Error)
	assert.NoError(t, env.db.Create(&model.PaymentAccount{
		ID: 1, AccountNumber: "PA-0001", Status: model.AccountStatusDefault,
		Balance: dec(100000), CustomerID: 1,
	}).Error)
	assert.NoError(t, env.db.Create(&model.PaymentAccount{
		ID: 2, AccountNumber: "PA-0002", Status: model.AccountStatusDefault,
		Balance: dec(5000), CustomerID: 2,
	}).Error)
}

func pendingTransfer(t *testing.T, env *testEnv, ctx context.Context, customerID uint64, amount int64, receiverID uint64) *model.Transaction {
	t.Helper()
	tx, err := env.engine.CreatePending(ctx, customerID, CreateTransactionRequest{
		Type:         model.TypeTransferMoney,
		AmountType:   model.AmountMoney,
		Amount:       dec(amount),
		SenderType:   model.AccountPayment,
		ReceiverType: model.AccountPayment,
		ReceiverID:   receiverID,
	})
	assert.NoError(t, err)
	return tx
}

func paymentAccount(t *testing.T, env *testEnv, id uint64) model.PaymentAccount {
	t.Helper()
	var pa model.PaymentAccount
	assert.NoError(t, env.db.First(&pa, id).Error)
	return pa
}

func transactionRow(t *testing.T, env *testEnv, id uint64) model.Transaction {
	t.Helper()
	var tr model.Transaction
	assert.NoError(t, env.db.First(&tr, id).Error)
	return tr
}

func TestTransferPAToPA_Completes(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	pending := pendingTransfer(t, env, ctx, 1, 20000, 2)
	assert.Equal(t, model.StatusPending, pending.Status)

	bound, err := env.engine.ResolveTransferRoute(ctx, 1, pending.ID, 1, 2, model.AccountPayment, model.AccountPayment)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), bound.SenderID)
	assert.Equal(t, uint64(2), bound.ReceiverID)

	link, err := env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), link.ReceiverCustomerID)

	sender := paymentAccount(t, env, 1)
	receiver := paymentAccount(t, env, 2)
	assert.Equal(t, "80000", sender.Balance.StringFixed(0))
	assert.Equal(t, int64(2000), sender.RewardPoints)
	assert.Equal(t, "25000", receiver.Balance.StringFixed(0))

	assert.Equal(t, model.StatusCompleted, transactionRow(t, env, pending.ID).Status)

	// conservation: the two deltas cancel
	assert.Equal(t, "105000", sender.Balance.Add(receiver.Balance).StringFixed(0))
}

func TestTransferBAInsufficient_FailsWithoutMutation(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)
	paID := uint64(1)
	assert.NoError(t, env.db.Create(&model.BankAccount{
		ID: 10, AccountNumber: "BA-0010", BankID: 1, HolderName: "An",
		CitizenID: "079123", Phone: "0901", Balance: dec(10000), PaymentAccountID: &paID,
	}).Error)

	pending, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeTransferMoney,
		AmountType:   model.AmountMoney,
		Amount:       dec(50000),
		SenderType:   model.AccountBank,
		ReceiverType: model.AccountPayment,
		ReceiverID:   2,
	})
	assert.NoError(t, err)
	_, err = env.engine.ResolveTransferRoute(ctx, 1, pending.ID, 10, 2, model.AccountBank, model.AccountPayment)
	assert.NoError(t, err)

	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.ErrorIs(t, err, ErrInsufficientBankBalance)

	var ba model.BankAccount
	assert.NoError(t, env.db.First(&ba, 10).Error)
	assert.Equal(t, "10000", ba.Balance.StringFixed(0))
	assert.Equal(t, "5000", paymentAccount(t, env, 2).Balance.StringFixed(0))
	assert.Equal(t, model.StatusFailed, transactionRow(t, env, pending.ID).Status)
}

func TestTransferPASenderBalanceEnforced(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	pending := pendingTransfer(t, env, ctx, 2, 50000, 1) // customer 2 only has 5,000
	_, err := env.engine.ResolveTransferRoute(ctx, 2, pending.ID, 2, 1, model.AccountPayment, model.AccountPayment)
	assert.NoError(t, err)

	_, err = env.engine.CompleteTransfer(ctx, 2, pending.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, model.StatusFailed, transactionRow(t, env, pending.ID).Status)
	assert.Equal(t, "5000", paymentAccount(t, env, 2).Balance.StringFixed(0))
	assert.Equal(t, "100000", paymentAccount(t, env, 1).Balance.StringFixed(0))
}

func TestSelfTransferForbidden(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)
	assert.NoError(t, env.db.Create(&model.PaymentAccount{
		ID: 3, AccountNumber: "PA-0003", Status: model.AccountStatusActive,
		Balance: dec(0), CustomerID: 1,
	}).Error)

	pending := pendingTransfer(t, env, ctx, 1, 1000, 3)
	_, err := env.engine.ResolveTransferRoute(ctx, 1, pending.ID, 1, 3, model.AccountPayment, model.AccountPayment)
	assert.ErrorIs(t, err, ErrSelfTransferForbidden)

	// never reaches completion with accounts bound
	assert.Equal(t, uint64(0), transactionRow(t, env, pending.ID).SenderID)
}

func TestRouteGuards(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	_, err := env.engine.ResolveTransferRoute(ctx, 1, 9999, 1, 2, model.AccountPayment, model.AccountPayment)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	pending := pendingTransfer(t, env, ctx, 1, 1000, 2)
	// customer 2 did not initiate this transaction
	_, err = env.engine.ResolveTransferRoute(ctx, 2, pending.ID, 2, 1, model.AccountPayment, model.AccountPayment)
	assert.ErrorIs(t, err, ErrTransactionOwnershipMismatch)

	// sender account owned by someone else
	_, err = env.engine.ResolveTransferRoute(ctx, 1, pending.ID, 2, 1, model.AccountPayment, model.AccountPayment)
	assert.ErrorIs(t, err, ErrTransactionOwnershipMismatch)

	// saving accounts are not routable
	_, err = env.engine.ResolveTransferRoute(ctx, 1, pending.ID, 1, 2, model.AccountSaving, model.AccountPayment)
	assert.ErrorIs(t, err, ErrInvalidTransactionField)
}

func TestCreatePendingValidation(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	_, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type: "SEND_GOLD", AmountType: model.AmountMoney, Amount: dec(100),
		SenderType: model.AccountPayment, ReceiverType: model.AccountPayment,
	})
	assert.ErrorIs(t, err, ErrInvalidTransactionField)

	_, err = env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type: model.TypeTransferMoney, AmountType: "STOCK", Amount: dec(100),
		SenderType: model.AccountPayment, ReceiverType: model.AccountPayment,
	})
	assert.ErrorIs(t, err, ErrInvalidTransactionField)

	_, err = env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type: model.TypeTransferMoney, AmountType: model.AmountMoney, Amount: dec(-5),
		SenderType: model.AccountPayment, ReceiverType: model.AccountPayment,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestStatusMonotonicity(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	pending := pendingTransfer(t, env, ctx, 1, 1000, 2)
	_, err := env.engine.ResolveTransferRoute(ctx, 1, pending.ID, 1, 2, model.AccountPayment, model.AccountPayment)
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.NoError(t, err)

	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.ErrorIs(t, err, ErrTransactionFinalized)
	_, err = env.engine.FailTransfer(ctx, 1, pending.ID)
	assert.ErrorIs(t, err, ErrTransactionFinalized)
	assert.Equal(t, model.StatusCompleted, transactionRow(t, env, pending.ID).Status)

	failed := pendingTransfer(t, env, ctx, 1, 1000, 2)
	_, err = env.engine.FailTransfer(ctx, 1, failed.ID)
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, failed.ID)
	assert.ErrorIs(t, err, ErrTransactionFinalized)
	assert.Equal(t, model.StatusFailed, transactionRow(t, env, failed.ID).Status)
}

func TestTopUpFromBankRewardsLinkedAccount(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)
	paID := uint64(1)
	assert.NoError(t, env.db.Create(&model.BankAccount{
		ID: 10, AccountNumber: "BA-0010", BankID: 1, HolderName: "An",
		CitizenID: "079123", Phone: "0901", Balance: dec(50000), PaymentAccountID: &paID,
	}).Error)

	pending, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeAddFromBAToPA,
		AmountType:   model.AmountMoney,
		Amount:       dec(20000),
		SenderType:   model.AccountBank,
		ReceiverType: model.AccountPayment,
		SenderID:     10,
		ReceiverID:   1,
	})
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.NoError(t, err)

	var ba model.BankAccount
	assert.NoError(t, env.db.First(&ba, 10).Error)
	pa := paymentAccount(t, env, 1)
	assert.Equal(t, "30000", ba.Balance.StringFixed(0))
	assert.Equal(t, "120000", pa.Balance.StringFixed(0))
	assert.Equal(t, int64(2000), pa.RewardPoints)
}

func TestSavingTopUpAndWithdraw(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)
	assert.NoError(t, env.db.Create(&model.InterestRate{ID: 1, AnnualRate: 6, TermMonths: 12}).Error)
	assert.NoError(t, env.db.Create(&model.SavingAccount{
		ID: 20, AccountNumber: "SA-0020", Status: model.AccountStatusActive,
		InitialAmount: dec(0), CurrentAmount: dec(0),
		PaymentAccountID: 1, InterestRateID: 1,
		CloseDate: time.Now().AddDate(1, 0, 0),
	}).Error)

	// top up PA -> SA, no reward points on saving deposits
	pending, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeAddFromPAToSA,
		AmountType:   model.AmountMoney,
		Amount:       dec(30000),
		SenderType:   model.AccountPayment,
		ReceiverType: model.AccountSaving,
		SenderID:     1,
		ReceiverID:   20,
	})
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.NoError(t, err)

	var sa model.SavingAccount
	assert.NoError(t, env.db.First(&sa, 20).Error)
	pa := paymentAccount(t, env, 1)
	assert.Equal(t, "30000", sa.CurrentAmount.StringFixed(0))
	assert.Equal(t, "70000", pa.Balance.StringFixed(0))
	assert.Equal(t, int64(0), pa.RewardPoints)

	// withdraw more than the saving holds: FAILED, nothing moves
	over, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeWithdrawFromSAToPA,
		AmountType:   model.AmountMoney,
		Amount:       dec(90000),
		SenderType:   model.AccountSaving,
		ReceiverType: model.AccountPayment,
		SenderID:     20,
		ReceiverID:   1,
	})
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, over.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NoError(t, env.db.First(&sa, 20).Error)
	assert.Equal(t, "30000", sa.CurrentAmount.StringFixed(0))
	assert.Equal(t, model.StatusFailed, transactionRow(t, env, over.ID).Status)
}

func TestSelfTransferBlockedAtCompletion(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)
	assert.NoError(t, env.db.Create(&model.PaymentAccount{
		ID: 3, AccountNumber: "PA-0003", Status: model.AccountStatusActive,
		Balance: dec(0), CustomerID: 1,
	}).Error)

	// both accounts bound at create time, skipping route resolution
	pending, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeTransferMoney,
		AmountType:   model.AmountMoney,
		Amount:       dec(10000),
		SenderType:   model.AccountPayment,
		ReceiverType: model.AccountPayment,
		SenderID:     1,
		ReceiverID:   3,
	})
	assert.NoError(t, err)

	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.ErrorIs(t, err, ErrSelfTransferForbidden)

	sender := paymentAccount(t, env, 1)
	assert.Equal(t, "100000", sender.Balance.StringFixed(0))
	assert.Equal(t, int64(0), sender.RewardPoints)
	assert.Equal(t, "0", paymentAccount(t, env, 3).Balance.StringFixed(0))
	assert.NotEqual(t, model.StatusCompleted, transactionRow(t, env, pending.ID).Status)
}

func TestWithdrawToBank(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)
	paID := uint64(1)
	assert.NoError(t, env.db.Create(&model.BankAccount{
		ID: 10, AccountNumber: "BA-0010", BankID: 1, HolderName: "An",
		CitizenID: "079123", Phone: "0901", Balance: dec(10000), PaymentAccountID: &paID,
	}).Error)

	pending, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeWithdrawFromPAToBA,
		AmountType:   model.AmountMoney,
		Amount:       dec(40000),
		SenderType:   model.AccountPayment,
		ReceiverType: model.AccountBank,
		SenderID:     1,
		ReceiverID:   10,
	})
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.NoError(t, err)

	var ba model.BankAccount
	assert.NoError(t, env.db.First(&ba, 10).Error)
	pa := paymentAccount(t, env, 1)
	assert.Equal(t, "60000", pa.Balance.StringFixed(0))
	assert.Equal(t, int64(4000), pa.RewardPoints)
	assert.Equal(t, "50000", ba.Balance.StringFixed(0))
	assert.Equal(t, model.StatusCompleted, transactionRow(t, env, pending.ID).Status)

	// withdrawing more than the payment account holds fails without mutation
	over, err := env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeWithdrawFromPAToBA,
		AmountType:   model.AmountMoney,
		Amount:       dec(200000),
		SenderType:   model.AccountPayment,
		ReceiverType: model.AccountBank,
		SenderID:     1,
		ReceiverID:   10,
	})
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, over.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NoError(t, env.db.First(&ba, 10).Error)
	assert.Equal(t, "60000", paymentAccount(t, env, 1).Balance.StringFixed(0))
	assert.Equal(t, "50000", ba.Balance.StringFixed(0))
	assert.Equal(t, model.StatusFailed, transactionRow(t, env, over.ID).Status)
}

func TestSavingDepositOwnershipEnforced(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)
	assert.NoError(t, env.db.Create(&model.InterestRate{ID: 1, AnnualRate: 6, TermMonths: 12}).Error)
	assert.NoError(t, env.db.Create(&model.SavingAccount{
		ID: 20, AccountNumber: "SA-0020", Status: model.AccountStatusActive,
		InitialAmount: dec(0), CurrentAmount: dec(0),
		PaymentAccountID: 1, InterestRateID: 1,
		CloseDate: time.Now().AddDate(1, 0, 0),
	}).Error)

	// customer 2 cannot deposit into customer 1's saving account
	_, err := env.engine.CreatePending(ctx, 2, CreateTransactionRequest{
		Type:         model.TypeAddFromPAToSA,
		AmountType:   model.AmountMoney,
		Amount:       dec(1000),
		SenderType:   model.AccountPayment,
		ReceiverType: model.AccountSaving,
		SenderID:     2,
		ReceiverID:   20,
	})
	assert.ErrorIs(t, err, ErrTransactionOwnershipMismatch)

	_, err = env.engine.CreatePending(ctx, 1, CreateTransactionRequest{
		Type:         model.TypeAddFromPAToSA,
		AmountType:   model.AmountMoney,
		Amount:       dec(1000),
		SenderType:   model.AccountPayment,
		ReceiverType: model.AccountSaving,
		SenderID:     1,
		ReceiverID:   999,
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPrecheckDefaultAccount(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	res, err := env.engine.PrecheckDefaultAccount(ctx, 1, dec(60000))
	assert.NoError(t, err)
	assert.True(t, res.Covered)
	assert.Equal(t, "100000", res.Balance.StringFixed(0))

	res, err = env.engine.PrecheckDefaultAccount(ctx, 2, dec(60000))
	assert.NoError(t, err)
	assert.False(t, res.Covered)

	_, err = env.engine.PrecheckDefaultAccount(ctx, 99, dec(10))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCompleteDefendsAgainstMissingLink(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	pending := pendingTransfer(t, env, ctx, 1, 1000, 2)
	_, err := env.engine.ResolveTransferRoute(ctx, 1, pending.ID, 1, 2, model.AccountPayment, model.AccountPayment)
	assert.NoError(t, err)

	// simulate a concurrent sweep deleting the link before completion
	assert.NoError(t, env.db.Delete(&model.TransactionCustomer{}, "transaction_id = ?", pending.ID).Error)

	_, err = env.engine.CompleteTransfer(ctx, 1, pending.ID)
	assert.ErrorIs(t, err, ErrTransactionOwnershipMismatch)
	assert.Equal(t, "100000", paymentAccount(t, env, 1).Balance.StringFixed(0))
}
