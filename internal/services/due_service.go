package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"duespay_app/internal/models"
)

// Scheduler submits units of work to the task queue, either immediately or
// no earlier than a given time. The DB-backed implementation lives in the
// tasks package; tests inject a capturing fake.
type Scheduler interface {
	SubmitNow(taskName string, args map[string]interface{}) error
	SubmitAt(taskName string, args map[string]interface{}, due time.Time) error
}

// CustomerLocker serializes provider-customer creation across server
// instances. *RedisCache implements it.
type CustomerLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool)
	ReleaseLock(ctx context.Context, key, token string)
}

var (
	customerLockTTL      = 30 * time.Second
	customerLockAttempts = 40
	customerLockBackoff  = 250 * time.Millisecond
)

// DueService drives newly created dues to a fully provisioned state and
// reconciles provider payment events back onto them.
type DueService struct {
	db        *gorm.DB
	locker    CustomerLocker
	provider  PaymentProvider
	scheduler Scheduler
}

// NewDueService wires the orchestrator. cache may be nil; the provider
// customer creation lock then degrades to a plain check-then-set.
func NewDueService(db *gorm.DB, cache *RedisCache, provider PaymentProvider, scheduler Scheduler) *DueService {
	s := &DueService{
		db:        db,
		provider:  provider,
		scheduler: scheduler,
	}
	if cache != nil {
		s.locker = cache
	}
	return s
}

// ProvisionDues processes a batch of persisted draft dues. A failure on one
// due is logged and does not abort the rest of the batch; mutations applied
// before the failure stay committed.
func (s *DueService) ProvisionDues(ctx context.Context, dues []*models.Due) {
	for _, due := range dues {
		if err := s.provisionDue(ctx, due); err != nil {
			log.Printf("Failed to provision due %d: %v", due.ID, err)
		}
	}
}

func (s *DueService) provisionDue(ctx context.Context, due *models.Due) error {
	if err := s.assignInvoiceNumber(due); err != nil {
		return err
	}

	var customer models.User
	if err := s.db.First(&customer, due.CustomerID).Error; err != nil {
		return fmt.Errorf("failed to load customer %d: %w", due.CustomerID, err)
	}

	providerCustomer, err := s.resolveProviderCustomer(ctx, &customer)
	if err != nil {
		return err
	}

	customerID, _ := providerCustomer["id"].(string)
	if customerID == "" {
		return fmt.Errorf("provider customer record for user %d has no id", customer.ID)
	}

	if due.TransactionType == models.TransactionTypeSubscription {
		return s.provisionSubscription(due, customerID)
	}
	return s.provisionInvoiceLink(due, &customer)
}

// assignInvoiceNumber increments the creator's invoice counter and stamps
// the new value onto the due. The increment runs as a single UPDATE
// expression inside a transaction, so concurrent creations for one creator
// cannot observe the same counter value.
func (s *DueService) assignInvoiceNumber(due *models.Due) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", due.CreatorID).
			UpdateColumn("invoice_counter", gorm.Expr("invoice_counter + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to increment invoice counter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("creator %d not found", due.CreatorID)
		}

		var creator models.User
		if err := tx.First(&creator, due.CreatorID).Error; err != nil {
			return err
		}

		due.InvoiceNum = creator.InvoiceCounter
		return tx.Model(&models.Due{}).Where("id = ?", due.ID).
			UpdateColumn("invoice_num", due.InvoiceNum).Error
	})
}

// resolveProviderCustomer fetches the provider-side customer record,
// creating it first if the user has none yet. The id of a newly created
// record is persisted onto the user.
func (s *DueService) resolveProviderCustomer(ctx context.Context, customer *models.User) (map[string]interface{}, error) {
	if customer.RazorPayID != "" {
		return s.provider.FetchCustomer(customer.RazorPayID)
	}

	if s.locker != nil {
		key := fmt.Sprintf("lock:provider-customer:%d", customer.ID)
		token, err := s.waitCustomerLock(ctx, key)
		if err != nil {
			return nil, err
		}
		defer s.locker.ReleaseLock(ctx, key, token)
		// The previous holder may have created and persisted the record
		// before releasing the lock
		if err := s.db.First(customer, customer.ID).Error; err != nil {
			return nil, err
		}
		if customer.RazorPayID != "" {
			return s.provider.FetchCustomer(customer.RazorPayID)
		}
	}

	created, err := s.provider.CreateCustomer(customer.FirstName, customer.MobileNumber)
	if err != nil {
		return nil, err
	}

	id, _ := created["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("provider returned customer without id for user %d", customer.ID)
	}

	customer.RazorPayID = id
	if err := s.db.Model(&models.User{}).Where("id = ?", customer.ID).
		Update("razor_pay_id", id).Error; err != nil {
		return nil, fmt.Errorf("failed to persist provider customer id: %w", err)
	}

	return created, nil
}

// waitCustomerLock takes the per-customer creation lock, backing off while
// another request holds it. Creation must never proceed without the lock, so
// exhausting the attempts is an error rather than a fall-through.
func (s *DueService) waitCustomerLock(ctx context.Context, key string) (string, error) {
	for attempt := 0; attempt < customerLockAttempts; attempt++ {
		if token, ok := s.locker.AcquireLock(ctx, key, customerLockTTL); ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(customerLockBackoff):
		}
	}
	return "", fmt.Errorf("gave up waiting for %s", key)
}

// provisionSubscription creates the plan and subscription on the provider,
// stores the subscription id, dispatches the payment-link notification and
// schedules the two follow-up reminders.
func (s *DueService) provisionSubscription(due *models.Due, providerCustomerID string) error {
	if due.DueDate == nil {
		return fmt.Errorf("subscription due %d has no due date", due.ID)
	}

	plan, err := s.provider.CreatePlan(due.Name, due.AmountMinorUnits())
	if err != nil {
		return err
	}
	planID, _ := plan["id"].(string)
	if planID == "" {
		return fmt.Errorf("provider returned plan without id for due %d", due.ID)
	}

	subscription, err := s.provider.CreateSubscription(planID, providerCustomerID, due.Months, due.DueDate.Unix())
	if err != nil {
		return err
	}
	subscriptionID, _ := subscription["id"].(string)
	if subscriptionID == "" {
		return fmt.Errorf("provider returned subscription without id for due %d", due.ID)
	}

	due.RazorPayID = subscriptionID
	if err := s.db.Model(&models.Due{}).Where("id = ?", due.ID).
		Update("razor_pay_id", subscriptionID).Error; err != nil {
		return fmt.Errorf("failed to persist subscription id: %w", err)
	}

	shortURL, _ := subscription["short_url"].(string)
	if err := s.scheduler.SubmitNow(models.TaskSendInvoice, map[string]interface{}{
		"due_id":    due.ID,
		"short_url": shortURL,
	}); err != nil {
		return fmt.Errorf("failed to submit payment link notification: %w", err)
	}

	reminderArgs := map[string]interface{}{"due_id": due.ID}
	if err := s.scheduler.SubmitAt(models.TaskPreDueReminder, reminderArgs, due.DueDate.AddDate(0, 0, -3)); err != nil {
		return fmt.Errorf("failed to schedule pre-due reminder: %w", err)
	}
	if err := s.scheduler.SubmitAt(models.TaskDueDateReminder, reminderArgs, *due.DueDate); err != nil {
		return fmt.Errorf("failed to schedule due-date reminder: %w", err)
	}

	return nil
}

// provisionInvoiceLink creates a one-time payment link for a fixed due,
// clears the due date (nothing recurs, nothing to remind) and dispatches
// the invoice notification.
func (s *DueService) provisionInvoiceLink(due *models.Due, customer *models.User) error {
	invoice, err := s.provider.CreateInvoiceLink(customer.FirstName, customer.MobileNumber, due.AmountMinorUnits(), due.Name)
	if err != nil {
		return err
	}
	invoiceID, _ := invoice["id"].(string)
	if invoiceID == "" {
		return fmt.Errorf("provider returned invoice without id for due %d", due.ID)
	}

	due.RazorPayID = invoiceID
	due.DueDate = nil
	if err := s.db.Model(&models.Due{}).Where("id = ?", due.ID).
		Updates(map[string]interface{}{"razor_pay_id": invoiceID, "due_date": nil}).Error; err != nil {
		return fmt.Errorf("failed to persist invoice id: %w", err)
	}

	shortURL, _ := invoice["short_url"].(string)
	if err := s.scheduler.SubmitNow(models.TaskSendInvoice, map[string]interface{}{
		"due_id":    due.ID,
		"short_url": shortURL,
	}); err != nil {
		return fmt.Errorf("failed to submit invoice notification: %w", err)
	}

	return nil
}

// ReconcilePayment applies a provider webhook event to the matching due.
// On a settled payment it records a Payment row, marks the due paid and
// clears the due date, which disarms any still-scheduled reminders.
func (s *DueService) ReconcilePayment(event string, payload map[string]interface{}) error {
	var providerRef string
	switch event {
	case "invoice.paid":
		providerRef = webhookEntityID(payload, "invoice")
	case "subscription.charged":
		providerRef = webhookEntityID(payload, "subscription")
	default:
		// Other events are recorded in the callback history only
		return nil
	}

	if providerRef == "" {
		return fmt.Errorf("webhook %s carries no entity id", event)
	}

	var due models.Due
	if err := s.db.Where("razor_pay_id = ?", providerRef).First(&due).Error; err != nil {
		return fmt.Errorf("no due for provider reference %s: %w", providerRef, err)
	}

	paymentID := webhookEntityID(payload, "payment")
	if paymentID != "" {
		var existing int64
		s.db.Model(&models.Payment{}).Where("razorpay_id = ?", paymentID).Count(&existing)
		if existing > 0 {
			// Provider retried a webhook we already processed
			return nil
		}
	} else if due.IsPaid {
		// Retried event without a payment entity; the due is already settled
		return nil
	}

	payment := models.Payment{
		DueID:      due.ID,
		RazorpayID: paymentID,
		Amount:     webhookPaymentAmount(payload),
	}
	if err := s.db.Create(&payment).Error; err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}

	updates := map[string]interface{}{"is_paid": true}
	if due.TransactionType == models.TransactionTypeSubscription || due.DueDate != nil {
		updates["due_date"] = nil
	}
	if err := s.db.Model(&models.Due{}).Where("id = ?", due.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark due %d paid: %w", due.ID, err)
	}

	return nil
}

// webhookEntityID digs payload.<kind>.entity.id out of a webhook body
func webhookEntityID(payload map[string]interface{}, kind string) string {
	inner, _ := payload["payload"].(map[string]interface{})
	wrapper, _ := inner[kind].(map[string]interface{})
	entity, _ := wrapper["entity"].(map[string]interface{})
	id, _ := entity["id"].(string)
	return id
}

// webhookPaymentAmount reads the settled amount in major currency units
func webhookPaymentAmount(payload map[string]interface{}) float64 {
	inner, _ := payload["payload"].(map[string]interface{})
	wrapper, _ := inner["payment"].(map[string]interface{})
	entity, _ := wrapper["entity"].(map[string]interface{})
	amount, _ := entity["amount"].(float64)
	return amount / 100
}
