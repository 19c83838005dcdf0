package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel kinds for errors.Is checks. Callers that need the attempted
// amount or entity id unwrap the surrounding DomainError.
var (
	ErrInvalidTransactionField      = errors.New("unrecognized transaction field value")
	ErrInvalidAmount                = errors.New("amount must be positive")
	ErrTransactionNotFound          = errors.New("transaction not found")
	ErrTransactionFinalized         = errors.New("transaction already completed or failed")
	ErrTransactionOwnershipMismatch = errors.New("transaction does not belong to customer")
	ErrSelfTransferForbidden        = errors.New("receiver account belongs to the sender")
	ErrInsufficientBankBalance      = errors.New("insufficient bank account balance")
	ErrInsufficientBalance          = errors.New("insufficient balance")
	ErrAccountNotFound              = errors.New("account not found")
	ErrAccountNotLinked             = errors.New("bank account is not linked to a payment account")
	ErrSavingInactive               = errors.New("saving account is inactive")
)

// DomainError wraps a sentinel kind with the entity and amount involved so
// the transport layer can render a useful message.
type DomainError struct {
	Kind     error
	EntityID uint64
	Amount   decimal.Decimal
}

func (e *DomainError) Error() string {
	if e.Amount.IsZero() {
		return fmt.Sprintf("%v (entity %d)", e.Kind, e.EntityID)
	}
	return fmt.Sprintf("%v (entity %d, amount %s)", e.Kind, e.EntityID, e.Amount.StringFixed(2))
}

func (e *DomainError) Unwrap() error { return e.Kind }

func domainErr(kind error, entityID uint64) *DomainError {
	return &DomainError{Kind: kind, EntityID: entityID}
}

func domainAmountErr(kind error, entityID uint64, amount decimal.Decimal) *DomainError {
	return &DomainError{Kind: kind, EntityID: entityID, Amount: amount}
}
