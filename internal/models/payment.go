package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment records a settlement against a Due. Rows are created only by
// payment reconciliation, never through the REST surface.
type Payment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_on"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	DueID      uint    `gorm:"index" json:"due_id"`
	RazorpayID string  `gorm:"type:varchar(100);index" json:"razorpay_id"`
	Amount     float64 `gorm:"type:decimal(15,2)" json:"amount"`

	// Relationships
	Due Due `gorm:"foreignKey:DueID" json:"due,omitempty"`
}
