package models

import (
	"time"

	"gorm.io/gorm"
)

// TransactionType distinguishes one-time charges from recurring subscriptions
type TransactionType string

const (
	TransactionTypeFixed        TransactionType = "fixed"
	TransactionTypeSubscription TransactionType = "subscription"
)

// Due represents a billing obligation raised by a business owner against a
// customer. DueDate is nil once there is nothing left to remind about: a
// fixed due whose payment link has been provisioned, or any due whose
// payment has been reconciled.
type Due struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_on"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UUID       string `gorm:"type:varchar(64);uniqueIndex" json:"uuid"`
	CreatorID  uint   `gorm:"index" json:"creator_id"`
	CustomerID uint   `gorm:"index" json:"customer_id"`

	TransactionType TransactionType `gorm:"type:varchar(20)" json:"transaction_type"`
	Amount          float64         `gorm:"type:decimal(15,2)" json:"amount"`
	Name            string          `gorm:"type:varchar(255)" json:"name"`
	DueDate         *time.Time      `json:"due_date"`
	Months          int             `json:"months"`

	// Provider-side subscription or invoice id, set during provisioning
	RazorPayID string `gorm:"type:varchar(100);index" json:"razor_pay_id"`

	InvoiceNum  int  `json:"invoice_num"`
	IsPaid      bool `gorm:"default:false" json:"is_paid"`
	IsCancelled bool `gorm:"default:false" json:"is_cancelled"`

	// Relationships
	Creator  User      `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Customer User      `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Payments []Payment `gorm:"foreignKey:DueID" json:"payments,omitempty"`
}

// AmountMinorUnits returns the due amount in the provider's minor currency
// units (paise for INR).
func (d Due) AmountMinorUnits() int64 {
	return int64(d.Amount*100 + 0.5)
}
