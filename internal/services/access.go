package services

import (
	"gorm.io/gorm"

	"duespay_app/internal/models"
)

// AccessPolicy evaluates per-request access rules for dues and payments.
// The ownership relation can change between requests, so results are never
// cached.
type AccessPolicy struct {
	db *gorm.DB
}

func NewAccessPolicy(db *gorm.DB) *AccessPolicy {
	return &AccessPolicy{db: db}
}

// OwnsCustomer reports whether a business owner has an ownership relation
// with the given customer. Both the add and change permission checks go
// through here.
func (p *AccessPolicy) OwnsCustomer(ownerID, customerID uint) (bool, error) {
	var count int64
	err := p.db.Model(&models.UserToUser{}).
		Where("business_owner_id = ? AND customer_id = ?", ownerID, customerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ScopeDues restricts a due query to rows created by the requesting user
func (p *AccessPolicy) ScopeDues(query *gorm.DB, userID uint) *gorm.DB {
	return query.Where("dues.creator_id = ?", userID)
}

// ScopePayments restricts a payment query to payments whose owning due was
// created by the requesting user.
func (p *AccessPolicy) ScopePayments(query *gorm.DB, userID uint) *gorm.DB {
	return query.Joins("JOIN dues ON dues.id = payments.due_id").
		Where("dues.creator_id = ?", userID)
}

// CanChangeDue permits updates only by the due's creator, and only while an
// ownership relation with the due's customer exists.
func (p *AccessPolicy) CanChangeDue(userID uint, due *models.Due) (bool, error) {
	if due.CreatorID != userID {
		return false, nil
	}
	return p.OwnsCustomer(userID, due.CustomerID)
}

// CanDeleteDue is always denied; dues are cancelled, not deleted
func (p *AccessPolicy) CanDeleteDue(userID uint, due *models.Due) bool {
	return false
}

// PrepareDueCreate forces the creator of every due in the batch to the
// requesting user and rejects the whole batch if any customer is not in an
// ownership relation with the requester.
func (p *AccessPolicy) PrepareDueCreate(userID uint, dues []*models.Due) (bool, error) {
	for _, due := range dues {
		due.CreatorID = userID
		owns, err := p.OwnsCustomer(userID, due.CustomerID)
		if err != nil {
			return false, err
		}
		if !owns {
			return false, nil
		}
	}
	return true, nil
}
