package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeTransferMoney      TransactionType = "TRANSFER_MONEY"
	TypeAddFromBAToPA      TransactionType = "ADD_FROM_BA_TO_PA"
	TypeAddFromPAToSA      TransactionType = "ADD_FROM_PA_TO_SA"
	TypeWithdrawFromPAToBA TransactionType = "WITHDRAW_FROM_PA_TO_BA"
	TypeWithdrawFromSAToPA TransactionType = "WITHDRAW_FROM_SA_TO_PA"
	TypeRedeemReward       TransactionType = "REDEEM_REWARD"
)

type AmountType string

const (
	AmountMoney       AmountType = "MONEY"
	AmountRewardPoint AmountType = "REWARD_POINT"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

type AccountType string

const (
	AccountPayment AccountType = "PAYMENT_ACCOUNT"
	AccountBank    AccountType = "BANK_ACCOUNT"
	AccountSaving  AccountType = "SAVING_ACCOUNT"
)

// Transaction is one money-movement attempt. Sender/receiver ids are zero
// until the route is bound; status leaves PENDING exactly once.
type Transaction struct {
	ID           uint64            `gorm:"primaryKey"`
	Reference    string            `gorm:"size:64;uniqueIndex;not null"`
	Type         TransactionType   `gorm:"size:32;not null;index"`
	AmountType   AmountType        `gorm:"size:16;not null"`
	Amount       decimal.Decimal   `gorm:"type:numeric(20,2);not null"`
	Status       TransactionStatus `gorm:"size:16;not null;index"`
	SenderID     uint64            `gorm:"not null;default:0"`
	SenderType   AccountType       `gorm:"size:24;not null"`
	ReceiverID   uint64            `gorm:"not null;default:0"`
	ReceiverType AccountType       `gorm:"size:24;not null"`
	Timestamp    time.Time         `gorm:"not null;index"`
}

func (Transaction) TableName() string { return "transactions" }

// Final reports whether the record reached a terminal status.
func (t *Transaction) Final() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// TransactionCustomer binds a transaction to the initiating customer and the
// resolved owning customer of the receiver side (0 when unresolvable).
type TransactionCustomer struct {
	TransactionID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	CustomerID         uint64 `gorm:"primaryKey;autoIncrement:false;index"`
	ReceiverCustomerID uint64 `gorm:"not null;default:0"`
}

func (TransactionCustomer) TableName() string { return "transactions_customers" }

// ValidTransactionType reports whether t is a recognized enum value.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TypeTransferMoney, TypeAddFromBAToPA, TypeAddFromPAToSA,
		TypeWithdrawFromPAToBA, TypeWithdrawFromSAToPA, TypeRedeemReward:
		return true
	}
	return false
}

// ValidAmountType reports whether a is a recognized enum value.
func ValidAmountType(a AmountType) bool {
	return a == AmountMoney || a == AmountRewardPoint
}

// ValidAccountType reports whether a is a recognized enum value.
func ValidAccountType(a AccountType) bool {
	return a == AccountPayment || a == AccountBank || a == AccountSaving
}
