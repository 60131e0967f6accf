package tasks

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"duespay_app/internal/models"
	"duespay_app/internal/services"
)

// Notifier sends a batch of {message, recipients} records. The production
// implementation is the SMS gateway client.
type Notifier interface {
	SendSMS(content []services.SMSMessage) error
}

func notifierOrDefault(n Notifier) Notifier {
	if n != nil {
		return n
	}
	return services.NewSMSService()
}

func dueFromTask(db *gorm.DB, task models.ScheduledTask) (*models.Due, error) {
	idFloat, ok := task.Arguments["due_id"].(float64)
	if !ok {
		if val, ok := task.Arguments["due_id"].(int); ok {
			idFloat = float64(val)
		} else if val, ok := task.Arguments["due_id"].(uint); ok {
			idFloat = float64(val)
		} else {
			return nil, fmt.Errorf("due_id not provided or invalid")
		}
	}

	var due models.Due
	if err := db.Preload("Creator").Preload("Customer").First(&due, uint(idFloat)).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch due: %w", err)
	}
	return &due, nil
}

// DueDateReminderTaskDef sends the reminder that fires on the due date
// itself. A nil due date means the payment was completed in the meantime
// and the reminder is a no-op.
type DueDateReminderTaskDef struct {
	Notifier Notifier
}

// TaskID returns the unique identifier for this task
func (t *DueDateReminderTaskDef) TaskID() string {
	return models.TaskDueDateReminder
}

// HandleExecution sends the due-date reminder unless the due is settled
func (t *DueDateReminderTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	due, err := dueFromTask(db, task)
	if err != nil {
		return nil, err
	}

	if due.DueDate == nil {
		return map[string]interface{}{"status": "skipped", "message": "payment already completed"}, nil
	}

	content := []services.SMSMessage{{
		Message: fmt.Sprintf("3 days remaining of your %s subscription! Pay now.", due.Creator.BusinessName),
		To:      []string{due.Customer.MobileNumber},
	}}
	if err := notifierOrDefault(t.Notifier).SendSMS(content); err != nil {
		return nil, err
	}

	return map[string]interface{}{"status": "success", "due_id": due.ID}, nil
}

// DueDateReminderTask is the singleton instance of DueDateReminderTaskDef
var DueDateReminderTask = &DueDateReminderTaskDef{}

// PreDueReminderTaskDef sends the stronger warning three days before the
// due date, with the same settled-due guard.
type PreDueReminderTaskDef struct {
	Notifier Notifier
}

// TaskID returns the unique identifier for this task
func (t *PreDueReminderTaskDef) TaskID() string {
	return models.TaskPreDueReminder
}

// HandleExecution sends the pre-due warning unless the due is settled
func (t *PreDueReminderTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	due, err := dueFromTask(db, task)
	if err != nil {
		return nil, err
	}

	if due.DueDate == nil {
		return map[string]interface{}{"status": "skipped", "message": "payment already completed"}, nil
	}

	content := []services.SMSMessage{{
		Message: fmt.Sprintf("Failure to pay today will result in halt of your %s service! Pay Now!", due.Creator.BusinessName),
		To:      []string{due.Customer.MobileNumber},
	}}
	if err := notifierOrDefault(t.Notifier).SendSMS(content); err != nil {
		return nil, err
	}

	return map[string]interface{}{"status": "success", "due_id": due.ID}, nil
}

// PreDueReminderTask is the singleton instance of PreDueReminderTaskDef
var PreDueReminderTask = &PreDueReminderTaskDef{}

// SendInvoiceTaskDef delivers the invoice or payment-link message for a
// freshly provisioned due. Unlike the reminders it carries no settled-due
// guard; it always fires once provisioning succeeded.
type SendInvoiceTaskDef struct {
	Notifier Notifier
}

// TaskID returns the unique identifier for this task
func (t *SendInvoiceTaskDef) TaskID() string {
	return models.TaskSendInvoice
}

// HandleExecution composes and sends the invoice notification
func (t *SendInvoiceTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	due, err := dueFromTask(db, task)
	if err != nil {
		return nil, err
	}

	shortURL, _ := task.Arguments["short_url"].(string)

	var message string
	if due.TransactionType == models.TransactionTypeSubscription {
		message = fmt.Sprintf("Thank you for your interest in the service provided by %s."+
			"Please complete your subscription and enjoy the service."+
			" Click to pay--> %s", due.Creator.BusinessName, shortURL)
	} else {
		message = fmt.Sprintf("Thank you for your interest in the service provided by %s."+
			" Here's your invoice and enjoy the service.\n"+
			" Invoice #%d --> %s", due.Creator.BusinessName, due.InvoiceNum, shortURL)
	}

	content := []services.SMSMessage{{
		Message: message,
		To:      []string{due.Customer.MobileNumber},
	}}
	if err := notifierOrDefault(t.Notifier).SendSMS(content); err != nil {
		return nil, err
	}

	return map[string]interface{}{"status": "success", "due_id": due.ID}, nil
}

// SendInvoiceTask is the singleton instance of SendInvoiceTaskDef
var SendInvoiceTask = &SendInvoiceTaskDef{}
