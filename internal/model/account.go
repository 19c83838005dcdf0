package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus applies to payment and saving accounts.
type AccountStatus string

const (
	AccountStatusDefault  AccountStatus = "DEFAULT"
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
)

// PaymentAccount is the customer's internal e-wallet balance.
// Exactly one account per customer carries status DEFAULT.
type PaymentAccount struct {
	ID            uint64          `gorm:"primaryKey"`
	AccountNumber string          `gorm:"size:32;uniqueIndex;not null"`
	Status        AccountStatus   `gorm:"size:16;not null;default:'ACTIVE'"`
	Balance       decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	RewardPoints  int64           `gorm:"not null;default:0"`
	CustomerID    uint64          `gorm:"not null;index"`
	Version       uint64          `gorm:"not null;default:0"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime"`
}

func (PaymentAccount) TableName() string { return "accounts_payment" }

// BankAccount mirrors an external account linked to the wallet. An account
// with a nil PaymentAccountID is unlinked and cannot move money.
type BankAccount struct {
	ID               uint64          `gorm:"primaryKey"`
	AccountNumber    string          `gorm:"size:32;not null;uniqueIndex:uq_bank_number"`
	BankID           uint64          `gorm:"not null;uniqueIndex:uq_bank_number"`
	HolderName       string          `gorm:"size:100;not null"`
	CitizenID        string          `gorm:"size:20;not null"`
	Phone            string          `gorm:"size:20;not null"`
	Balance          decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	PaymentAccountID *uint64         `gorm:"index"`
	Version          uint64          `gorm:"not null;default:0"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime"`
}

func (BankAccount) TableName() string { return "accounts_bank" }

// Linked reports whether the bank account can send/receive through the wallet.
func (b *BankAccount) Linked() bool { return b.PaymentAccountID != nil }

// SavingAccount is a term deposit tied to one payment account.
type SavingAccount struct {
	ID               uint64          `gorm:"primaryKey"`
	AccountNumber    string          `gorm:"size:32;uniqueIndex;not null"`
	Status           AccountStatus   `gorm:"size:16;not null;default:'ACTIVE'"`
	InitialAmount    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	CurrentAmount    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PaymentAccountID uint64          `gorm:"not null;index"`
	InterestRateID   uint64          `gorm:"not null"`
	CloseDate        time.Time       `gorm:"not null"`
	LastAccrualDate  *time.Time
	Version          uint64    `gorm:"not null;default:0"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (SavingAccount) TableName() string { return "accounts_saving" }

// IsEndOfTerm reports whether the account has reached its close date.
func (s *SavingAccount) IsEndOfTerm(today time.Time) bool {
	y1, m1, d1 := s.CloseDate.Date()
	y2, m2, d2 := today.Date()
	if y2 != y1 {
		return y2 > y1
	}
	if m2 != m1 {
		return m2 > m1
	}
	return d2 >= d1
}

type InterestRate struct {
	ID         uint64  `gorm:"primaryKey"`
	AnnualRate float64 `gorm:"not null"`
	TermMonths int     `gorm:"not null"`
}

func (InterestRate) TableName() string { return "interest_rates" }

// Customer carries contact identity only; authentication lives outside.
type Customer struct {
	ID    uint64 `gorm:"primaryKey"`
	Name  string `gorm:"size:100;not null"`
	Email string `gorm:"size:100;uniqueIndex;not null"`
	Phone string `gorm:"size:20;not null"`
}

func (Customer) TableName() string { return "customers" }
