package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	mw "github.com/openwallet/ewallet-service/http"
	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/openwallet/ewallet-service/internal/notify"
	"github.com/openwallet/ewallet-service/internal/otp"
	"github.com/openwallet/ewallet-service/internal/repo"
	"github.com/openwallet/ewallet-service/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	engine   *service.Engine
	saving   *service.SavingService
	history  *service.HistoryService
	gate     *otp.Gate
	notifier notify.Notifier
	repo     repo.RepositoryInterface
	otpTTL   time.Duration
	log      *zap.SugaredLogger
}

// NewHandlers wires the handler set.
func NewHandlers(engine *service.Engine, saving *service.SavingService, history *service.HistoryService,
	gate *otp.Gate, notifier notify.Notifier, r repo.RepositoryInterface, otpTTL time.Duration, log *zap.SugaredLogger) *Handlers {
	return &Handlers{
		engine: engine, saving: saving, history: history,
		gate: gate, notifier: notifier, repo: r, otpTTL: otpTTL, log: log,
	}
}

// RegisterHandlers mounts all authenticated routes under /v1.
func RegisterHandlers(r *gin.Engine, h *Handlers, jwtSecret string) {
	v1 := r.Group("/v1", mw.AuthMiddleware(jwtSecret))
	{
		v1.POST("/transactions", h.createTransaction)
		v1.POST("/transactions/:id/route", h.routeTransaction)
		v1.POST("/transactions/:id/otp", h.requestOTP)
		v1.POST("/transactions/:id/confirm", h.confirmTransaction)
		v1.GET("/transactions/:id", h.getTransaction)
		v1.GET("/transactions", h.listTransactions)
		v1.GET("/transactions/summary/monthly", h.monthlyRollup)
		v1.GET("/accounts/default/precheck", h.precheckDefault)
		v1.POST("/savings/:id/withdraw", h.withdrawSaving)
	}
}

// statusFor maps domain error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidTransactionField),
		errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTransactionOwnershipMismatch),
		errors.Is(err, service.ErrSelfTransferForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrTransactionFinalized),
		errors.Is(err, service.ErrInsufficientBankBalance),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrAccountNotLinked),
		errors.Is(err, service.ErrSavingInactive):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func txIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type createTransactionReq struct {
	Type         string `json:"type" binding:"required"`
	AmountType   string `json:"amount_type" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	SenderType   string `json:"sender_type" binding:"required"`
	ReceiverType string `json:"receiver_type" binding:"required"`
	SenderID     uint64 `json:"sender_id"`
	ReceiverID   uint64 `json:"receiver_id"`
}

func (h *Handlers) createTransaction(c *gin.Context) {
	var req createTransactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	t, err := h.engine.CreatePending(c, mw.CustomerID(c), service.CreateTransactionRequest{
		Type:         model.TransactionType(req.Type),
		AmountType:   model.AmountType(req.AmountType),
		Amount:       amt,
		SenderType:   model.AccountType(req.SenderType),
		ReceiverType: model.AccountType(req.ReceiverType),
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type routeTransactionReq struct {
	SenderID     uint64 `json:"sender_id" binding:"required"`
	ReceiverID   uint64 `json:"receiver_id" binding:"required"`
	SenderType   string `json:"sender_type" binding:"required"`
	ReceiverType string `json:"receiver_type" binding:"required"`
}

func (h *Handlers) routeTransaction(c *gin.Context) {
	id, ok := txIDParam(c)
	if !ok {
		return
	}
	var req routeTransactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.engine.ResolveTransferRoute(c, mw.CustomerID(c), id,
		req.SenderID, req.ReceiverID,
		model.AccountType(req.SenderType), model.AccountType(req.ReceiverType))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// requestOTP issues a code for the pending transaction and mails it. The
// response carries the default-account precheck so the caller's UI can steer
// the funding-source choice; delivery failure is a soft warning.
func (h *Handlers) requestOTP(c *gin.Context) {
	id, ok := txIDParam(c)
	if !ok {
		return
	}
	customerID := mw.CustomerID(c)
	t, err := h.engine.GetOwnedTransaction(c, customerID, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	if t.Final() {
		abortWith(c, &service.DomainError{Kind: service.ErrTransactionFinalized, EntityID: id})
		return
	}
	cust, err := h.repo.GetCustomer(c, customerID)
	if err != nil {
		abortWith(c, err)
		return
	}
	code, err := h.gate.Generate(c, otp.ChannelEmail, cust.Email, service.OTPPurpose(t.Type))
	if err != nil {
		abortWith(c, err)
		return
	}
	delivered := true
	if err := h.notifier.SendOTP(cust.Email, code, h.otpTTL); err != nil {
		delivered = false
		h.log.Warnf("otp delivery to customer %d: %v", customerID, err)
	}
	resp := gin.H{"delivered": delivered, "expires_in_minutes": int(h.otpTTL.Minutes())}
	if precheck, err := h.engine.PrecheckDefaultAccount(c, customerID, t.Amount); err == nil {
		resp["default_account"] = precheck
	}
	c.JSON(http.StatusOK, resp)
}

type confirmReq struct {
	Code string `json:"code" binding:"required"`
}

// confirmTransaction verifies the OTP and finalizes the transaction. A wrong
// code with attempts remaining keeps the transaction pending; exhaustion or
// expiry fails it.
func (h *Handlers) confirmTransaction(c *gin.Context) {
	id, ok := txIDParam(c)
	if !ok {
		return
	}
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	customerID := mw.CustomerID(c)
	t, err := h.engine.GetOwnedTransaction(c, customerID, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	cust, err := h.repo.GetCustomer(c, customerID)
	if err != nil {
		abortWith(c, err)
		return
	}

	verifyErr := h.gate.Verify(c, otp.ChannelEmail, cust.Email, req.Code, service.OTPPurpose(t.Type))
	switch {
	case verifyErr == nil:
		// fall through to completion
	case errors.Is(verifyErr, otp.ErrMismatch):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":         "wrong code",
			"attempts_left": h.gate.AttemptsLeft(c, otp.ChannelEmail, cust.Email),
		})
		return
	default:
		// not found, wrong purpose, expired, or attempts exhausted
		if _, failErr := h.engine.FailTransfer(c, customerID, id); failErr != nil {
			h.log.Warnf("fail transaction %d after otp rejection: %v", id, failErr)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verifyErr.Error(), "status": model.StatusFailed})
		return
	}

	link, err := h.engine.CompleteTransfer(c, customerID, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	if cust.Email != "" {
		if err := h.notifier.SendTransactionNotice(cust.Email, t.Reference, t.Amount, string(model.StatusCompleted)); err != nil {
			h.log.Warnf("transaction notice to customer %d: %v", customerID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": model.StatusCompleted, "link": link})
}

func (h *Handlers) getTransaction(c *gin.Context) {
	id, ok := txIDParam(c)
	if !ok {
		return
	}
	t, err := h.engine.GetOwnedTransaction(c, mw.CustomerID(c), id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) listTransactions(c *gin.Context) {
	f := service.HistoryFilter{
		Status:       model.TransactionStatus(c.Query("status")),
		Type:         model.TransactionType(c.Query("type")),
		ReceiverType: model.AccountType(c.Query("receiver_type")),
	}
	if v := c.Query("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		f.From = ts
	}
	if v := c.Query("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}
		f.To = ts
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.history.List(c, mw.CustomerID(c), f)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *Handlers) monthlyRollup(c *gin.Context) {
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(time.Now().Year())))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}
	sums, err := h.history.MonthlyRollup(c, mw.CustomerID(c), year)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sums)
}

func (h *Handlers) precheckDefault(c *gin.Context) {
	amt, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || amt.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	precheck, err := h.engine.PrecheckDefaultAccount(c, mw.CustomerID(c), amt)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, precheck)
}

// withdrawSaving is the early-exit/maturity payout for a saving account owned
// by the caller.
func (h *Handlers) withdrawSaving(c *gin.Context) {
	id, ok := txIDParam(c)
	if !ok {
		return
	}
	customerID := mw.CustomerID(c)
	owner, err := h.repo.OwningCustomer(c, h.repo.DB(c), model.AccountSaving, id)
	if err != nil {
		abortWith(c, &service.DomainError{Kind: service.ErrAccountNotFound, EntityID: id})
		return
	}
	if owner != customerID {
		abortWith(c, &service.DomainError{Kind: service.ErrTransactionOwnershipMismatch, EntityID: id})
		return
	}
	t, err := h.saving.DeactivateAndWithdraw(c, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
