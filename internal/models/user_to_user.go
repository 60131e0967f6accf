package models

import (
	"time"

	"gorm.io/gorm"
)

// UserToUser links a business owner to a customer. A due may only be
// raised against a customer when such a row exists for the pair.
type UserToUser struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	BusinessOwnerID uint `gorm:"uniqueIndex:idx_owner_customer" json:"business_owner_id"`
	CustomerID      uint `gorm:"uniqueIndex:idx_owner_customer" json:"customer_id"`

	// Relationships
	BusinessOwner User `gorm:"foreignKey:BusinessOwnerID" json:"business_owner,omitempty"`
	Customer      User `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
}
