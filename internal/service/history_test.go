package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func completedRow(t *testing.T, env *testEnv, initiator, receiverCustomer uint64, amount int64, status model.TransactionStatus, at time.Time) {
	t.Helper()
	tx := model.Transaction{
		Reference:    uuid.NewString(),
		Type:         model.TypeTransferMoney,
		AmountType:   model.AmountMoney,
		Amount:       dec(amount),
		Status:       status,
		SenderID:     1,
		SenderType:   model.AccountPayment,
		ReceiverID:   2,
		ReceiverType: model.AccountPayment,
		Timestamp:    at,
	}
	assert.NoError(t, env.db.Create(&tx).Error)
	assert.NoError(t, env.db.Create(&model.TransactionCustomer{
		TransactionID:      tx.ID,
		CustomerID:         initiator,
		ReceiverCustomerID: receiverCustomer,
	}).Error)
}

func TestHistoryListSeesBothSides(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	tx := pendingTransfer(t, env, ctx, 1, 25000, 2)
	_, err := env.engine.ResolveTransferRoute(ctx, 1, tx.ID, 1, 2, model.AccountPayment, model.AccountPayment)
	assert.NoError(t, err)
	_, err = env.engine.CompleteTransfer(ctx, 1, tx.ID)
	assert.NoError(t, err)

	initiated, err := env.history.List(ctx, 1, HistoryFilter{})
	assert.NoError(t, err)
	assert.Len(t, initiated, 1)
	assert.Equal(t, tx.ID, initiated[0].ID)

	received, err := env.history.List(ctx, 2, HistoryFilter{})
	assert.NoError(t, err)
	assert.Len(t, received, 1)

	// an uninvolved customer sees nothing
	none, err := env.history.List(ctx, 99, HistoryFilter{})
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestHistoryListFilters(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	jan := time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)
	completedRow(t, env, 1, 2, 100, model.StatusCompleted, jan)
	completedRow(t, env, 1, 2, 200, model.StatusFailed, jan.Add(time.Hour))

	done, err := env.history.List(ctx, 1, HistoryFilter{Status: model.StatusCompleted})
	assert.NoError(t, err)
	assert.Len(t, done, 1)
	assert.True(t, done[0].Amount.Equal(dec(100)))

	// newest first
	all, err := env.history.List(ctx, 1, HistoryFilter{})
	assert.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, model.StatusFailed, all[0].Status)

	topUps, err := env.history.List(ctx, 1, HistoryFilter{Type: model.TypeAddFromBAToPA})
	assert.NoError(t, err)
	assert.Empty(t, topUps)

	windowed, err := env.history.List(ctx, 1, HistoryFilter{
		From: jan.Add(30 * time.Minute),
		To:   jan.Add(2 * time.Hour),
	})
	assert.NoError(t, err)
	assert.Len(t, windowed, 1)
	assert.Equal(t, model.StatusFailed, windowed[0].Status)
}

func TestMonthlyRollup(t *testing.T) {
	env, ctx := newTestEnv(t)
	seedCustomers(t, env)

	jan := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	mar := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

	completedRow(t, env, 1, 2, 100, model.StatusCompleted, jan)              // out for 1
	completedRow(t, env, 2, 1, 50, model.StatusCompleted, jan.Add(time.Hour)) // in for 1
	completedRow(t, env, 1, 2, 25, model.StatusCompleted, mar)
	completedRow(t, env, 1, 2, 999, model.StatusFailed, jan)   // excluded: not completed
	completedRow(t, env, 1, 2, 999, model.StatusCompleted,     // excluded: prior year
		time.Date(2025, time.December, 15, 12, 0, 0, 0, time.UTC))

	months, err := env.history.MonthlyRollup(ctx, 1, 2026)
	assert.NoError(t, err)
	assert.Len(t, months, 12)

	january := months[0]
	assert.Equal(t, 2, january.Count)
	assert.True(t, january.TotalOut.Equal(dec(100)))
	assert.True(t, january.TotalIn.Equal(dec(50)))

	march := months[2]
	assert.Equal(t, 1, march.Count)
	assert.True(t, march.TotalOut.Equal(dec(25)))
	assert.True(t, march.TotalIn.Equal(dec(0)))

	assert.Equal(t, 0, months[1].Count)
}
