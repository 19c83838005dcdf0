package service

import (
	"context"
	"time"

	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/openwallet/ewallet-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HistoryService is the read-only projection over the transaction record
// store: per-customer listings and monthly rollups. It never writes.
type HistoryService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewHistoryService returns the history service.
func NewHistoryService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *HistoryService {
	return &HistoryService{repo: r, log: logger}
}

// HistoryFilter narrows a listing. Zero values mean "any".
type HistoryFilter struct {
	Status       model.TransactionStatus
	Type         model.TransactionType
	ReceiverType model.AccountType
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// List returns transactions visible to the customer, from either side: ones
// they initiated and ones where they were resolved as the receiving customer.
func (h *HistoryService) List(ctx context.Context, customerID uint64, f HistoryFilter) ([]model.Transaction, error) {
	q := h.repo.DB(ctx).
		Model(&model.Transaction{}).
		Joins("JOIN transactions_customers tc ON tc.transaction_id = transactions.id").
		Where("tc.customer_id = ? OR tc.receiver_customer_id = ?", customerID, customerID)
	if f.Status != "" {
		q = q.Where("transactions.status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("transactions.type = ?", f.Type)
	}
	if f.ReceiverType != "" {
		q = q.Where("transactions.receiver_type = ?", f.ReceiverType)
	}
	if !f.From.IsZero() {
		q = q.Where("transactions.timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("transactions.timestamp < ?", f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var txs []model.Transaction
	err := q.Order("transactions.timestamp desc").
		Limit(limit).Offset(f.Offset).
		Find(&txs).Error
	return txs, err
}

// MonthlySummary aggregates a customer's completed transactions for one
// month of a year.
type MonthlySummary struct {
	Month    time.Month      `json:"month"`
	Count    int             `json:"count"`
	TotalIn  decimal.Decimal `json:"total_in"`
	TotalOut decimal.Decimal `json:"total_out"`
}

// MonthlyRollup computes per-month in/out totals of COMPLETED transactions
// for the given year. Direction is judged from the link row: initiated
// transactions count as outgoing, received ones as incoming.
func (h *HistoryService) MonthlyRollup(ctx context.Context, customerID uint64, year int) ([]MonthlySummary, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	type row struct {
		model.Transaction
		CustomerID         uint64
		ReceiverCustomerID uint64
	}
	var rows []row
	err := h.repo.DB(ctx).
		Model(&model.Transaction{}).
		Select("transactions.*, tc.customer_id, tc.receiver_customer_id").
		Joins("JOIN transactions_customers tc ON tc.transaction_id = transactions.id").
		Where("(tc.customer_id = ? OR tc.receiver_customer_id = ?) AND transactions.status = ? AND transactions.timestamp >= ? AND transactions.timestamp < ?",
			customerID, customerID, model.StatusCompleted, from, to).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]MonthlySummary, 12)
	for i := range summaries {
		summaries[i] = MonthlySummary{
			Month:    time.Month(i + 1),
			TotalIn:  decimal.Zero,
			TotalOut: decimal.Zero,
		}
	}
	for i := range rows {
		m := int(rows[i].Timestamp.Month()) - 1
		summaries[m].Count++
		if rows[i].CustomerID == customerID {
			summaries[m].TotalOut = summaries[m].TotalOut.Add(rows[i].Amount)
		}
		if rows[i].ReceiverCustomerID == customerID {
			summaries[m].TotalIn = summaries[m].TotalIn.Add(rows[i].Amount)
		}
	}
	return summaries, nil
}
