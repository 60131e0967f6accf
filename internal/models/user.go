package models

import (
	"time"

	"gorm.io/gorm"
)

// UserType represents the role of a user
type UserType string

const (
	UserTypeBusinessOwner UserType = "business_owner"
	UserTypeCustomer      UserType = "customer"
)

// User represents either a business owner or one of their customers.
// RazorPayID is the provider-side customer id, created lazily the first
// time a due is raised against the user. InvoiceCounter is per-owner and
// never reset.
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	FirstName    string   `gorm:"type:varchar(255)" json:"first_name"`
	BusinessName string   `gorm:"type:varchar(255)" json:"business_name"`
	MobileNumber string   `gorm:"type:varchar(50)" json:"mobile_number"`
	Email        string   `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	UserType     UserType `gorm:"type:varchar(20);default:'customer'" json:"user_type"`

	RazorPayID     string `gorm:"type:varchar(100)" json:"razor_pay_id"`
	InvoiceCounter int    `gorm:"default:0" json:"invoice_counter"`

	// Relationships
	CreatedDues []Due `gorm:"foreignKey:CreatorID" json:"created_dues,omitempty"`
	Dues        []Due `gorm:"foreignKey:CustomerID" json:"dues,omitempty"`
}
