package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"duespay_app/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

type fakeProvider struct {
	fetchCustomerCalls  int
	createCustomerCalls int
	planCalls           int
	subscriptionCalls   int
	invoiceCalls        int

	lastPlanAmount    int64
	lastInvoiceAmount int64
	lastTotalCount    int
	lastStartAt       int64

	failPlanCreate bool
}

func (p *fakeProvider) FetchCustomer(customerID string) (map[string]interface{}, error) {
	p.fetchCustomerCalls++
	return map[string]interface{}{"id": customerID}, nil
}

func (p *fakeProvider) CreateCustomer(name, contact string) (map[string]interface{}, error) {
	p.createCustomerCalls++
	return map[string]interface{}{"id": "cust_fake001"}, nil
}

func (p *fakeProvider) CreatePlan(name string, amountMinor int64) (map[string]interface{}, error) {
	if p.failPlanCreate {
		return nil, fmt.Errorf("plan create refused")
	}
	p.planCalls++
	p.lastPlanAmount = amountMinor
	return map[string]interface{}{"id": "plan_fake001"}, nil
}

func (p *fakeProvider) CreateSubscription(planID, customerID string, totalCount int, startAt int64) (map[string]interface{}, error) {
	p.subscriptionCalls++
	p.lastTotalCount = totalCount
	p.lastStartAt = startAt
	return map[string]interface{}{"id": "sub_fake001", "short_url": "https://rzp.io/i/sub"}, nil
}

func (p *fakeProvider) CreateInvoiceLink(customerName, contact string, amountMinor int64, description string) (map[string]interface{}, error) {
	p.invoiceCalls++
	p.lastInvoiceAmount = amountMinor
	return map[string]interface{}{"id": "inv_fake001", "short_url": "https://rzp.io/i/inv"}, nil
}

type submission struct {
	name string
	args map[string]interface{}
	at   *time.Time
}

type fakeScheduler struct {
	submissions []submission
}

func (s *fakeScheduler) SubmitNow(taskName string, args map[string]interface{}) error {
	s.submissions = append(s.submissions, submission{name: taskName, args: args})
	return nil
}

func (s *fakeScheduler) SubmitAt(taskName string, args map[string]interface{}, due time.Time) error {
	s.submissions = append(s.submissions, submission{name: taskName, args: args, at: &due})
	return nil
}

func (s *fakeScheduler) byName(name string) []submission {
	var out []submission
	for _, sub := range s.submissions {
		if sub.name == name {
			out = append(out, sub)
		}
	}
	return out
}

type fakeLocker struct {
	refusals  int // acquire attempts to refuse before granting the lock
	acquires  int
	releases  int
	onRefusal func()
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	l.acquires++
	if l.acquires <= l.refusals {
		if l.onRefusal != nil {
			l.onRefusal()
		}
		return "", false
	}
	return "lock-token", true
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, token string) {
	l.releases++
}

func shortenLockBackoff(t *testing.T, attempts int) {
	t.Helper()
	prevAttempts, prevBackoff := customerLockAttempts, customerLockBackoff
	customerLockAttempts = attempts
	customerLockBackoff = time.Millisecond
	t.Cleanup(func() {
		customerLockAttempts = prevAttempts
		customerLockBackoff = prevBackoff
	})
}

func seedOwnerAndCustomer(t *testing.T, db *gorm.DB, counter int, customerProviderID string) (*models.User, *models.User) {
	t.Helper()
	owner := &models.User{
		FirstName:      "Asha",
		BusinessName:   "Asha Fitness",
		MobileNumber:   "9811111111",
		Email:          "asha@example.com",
		UserType:       models.UserTypeBusinessOwner,
		InvoiceCounter: counter,
	}
	customer := &models.User{
		FirstName:    "Ravi",
		MobileNumber: "9822222222",
		Email:        "ravi@example.com",
		UserType:     models.UserTypeCustomer,
		RazorPayID:   customerProviderID,
	}
	if err := db.Create(owner).Error; err != nil {
		t.Fatalf("failed to create owner: %v", err)
	}
	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}
	if err := db.Create(&models.UserToUser{BusinessOwnerID: owner.ID, CustomerID: customer.ID}).Error; err != nil {
		t.Fatalf("failed to create ownership relation: %v", err)
	}
	return owner, customer
}

func TestProvisionFixedDue(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{}
	scheduler := &fakeScheduler{}
	svc := NewDueService(db, nil, provider, scheduler)

	owner, customer := seedOwnerAndCustomer(t, db, 5, "")

	dueDate := time.Now().AddDate(0, 0, 14)
	due := &models.Due{
		UUID:            "fixed-1",
		CreatorID:       owner.ID,
		CustomerID:      customer.ID,
		TransactionType: models.TransactionTypeFixed,
		Amount:          1000,
		Name:            "Gym membership",
		DueDate:         &dueDate,
	}
	if err := db.Create(due).Error; err != nil {
		t.Fatalf("failed to create due: %v", err)
	}

	svc.ProvisionDues(context.Background(), []*models.Due{due})

	if provider.createCustomerCalls != 1 {
		t.Errorf("createCustomerCalls = %d; want 1", provider.createCustomerCalls)
	}
	if provider.fetchCustomerCalls != 0 {
		t.Errorf("fetchCustomerCalls = %d; want 0", provider.fetchCustomerCalls)
	}
	if provider.invoiceCalls != 1 {
		t.Errorf("invoiceCalls = %d; want 1", provider.invoiceCalls)
	}
	if provider.lastInvoiceAmount != 100000 {
		t.Errorf("invoice amount = %d; want 100000", provider.lastInvoiceAmount)
	}

	var reloaded models.Due
	if err := db.First(&reloaded, due.ID).Error; err != nil {
		t.Fatalf("failed to reload due: %v", err)
	}
	if reloaded.InvoiceNum != 6 {
		t.Errorf("invoice_num = %d; want 6", reloaded.InvoiceNum)
	}
	if reloaded.DueDate != nil {
		t.Errorf("due_date = %v; want nil", reloaded.DueDate)
	}
	if reloaded.RazorPayID != "inv_fake001" {
		t.Errorf("razor_pay_id = %q; want inv_fake001", reloaded.RazorPayID)
	}

	var reloadedOwner models.User
	db.First(&reloadedOwner, owner.ID)
	if reloadedOwner.InvoiceCounter != 6 {
		t.Errorf("owner counter = %d; want 6", reloadedOwner.InvoiceCounter)
	}

	var reloadedCustomer models.User
	db.First(&reloadedCustomer, customer.ID)
	if reloadedCustomer.RazorPayID != "cust_fake001" {
		t.Errorf("customer razor_pay_id = %q; want cust_fake001", reloadedCustomer.RazorPayID)
	}

	if got := len(scheduler.submissions); got != 1 {
		t.Fatalf("submissions = %d; want 1", got)
	}
	notif := scheduler.submissions[0]
	if notif.name != models.TaskSendInvoice {
		t.Errorf("submission name = %q; want %q", notif.name, models.TaskSendInvoice)
	}
	if notif.at != nil {
		t.Errorf("invoice notification was scheduled for later; want immediate")
	}
	if notif.args["short_url"] != "https://rzp.io/i/inv" {
		t.Errorf("short_url = %v; want invoice link", notif.args["short_url"])
	}
}

func TestProvisionSubscriptionDue(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{}
	scheduler := &fakeScheduler{}
	svc := NewDueService(db, nil, provider, scheduler)

	owner, customer := seedOwnerAndCustomer(t, db, 0, "cust_existing")

	dueDate := time.Now().AddDate(0, 0, 10).Truncate(time.Second)
	due := &models.Due{
		UUID:            "sub-1",
		CreatorID:       owner.ID,
		CustomerID:      customer.ID,
		TransactionType: models.TransactionTypeSubscription,
		Amount:          499.50,
		Name:            "Monthly training",
		DueDate:         &dueDate,
		Months:          6,
	}
	if err := db.Create(due).Error; err != nil {
		t.Fatalf("failed to create due: %v", err)
	}

	svc.ProvisionDues(context.Background(), []*models.Due{due})

	if provider.fetchCustomerCalls != 1 {
		t.Errorf("fetchCustomerCalls = %d; want 1", provider.fetchCustomerCalls)
	}
	if provider.createCustomerCalls != 0 {
		t.Errorf("createCustomerCalls = %d; want 0", provider.createCustomerCalls)
	}
	if provider.planCalls != 1 || provider.subscriptionCalls != 1 {
		t.Errorf("planCalls = %d, subscriptionCalls = %d; want 1 and 1", provider.planCalls, provider.subscriptionCalls)
	}
	if provider.lastPlanAmount != 49950 {
		t.Errorf("plan amount = %d; want 49950", provider.lastPlanAmount)
	}
	if provider.lastTotalCount != 6 {
		t.Errorf("total_count = %d; want 6", provider.lastTotalCount)
	}
	if provider.lastStartAt != dueDate.Unix() {
		t.Errorf("start_at = %d; want %d", provider.lastStartAt, dueDate.Unix())
	}

	var reloaded models.Due
	db.First(&reloaded, due.ID)
	if reloaded.RazorPayID != "sub_fake001" {
		t.Errorf("razor_pay_id = %q; want sub_fake001", reloaded.RazorPayID)
	}
	if reloaded.DueDate == nil {
		t.Errorf("due_date cleared for an active subscription")
	}
	if reloaded.InvoiceNum != 1 {
		t.Errorf("invoice_num = %d; want 1", reloaded.InvoiceNum)
	}

	links := scheduler.byName(models.TaskSendInvoice)
	if len(links) != 1 {
		t.Fatalf("payment link notifications = %d; want 1", len(links))
	}
	if links[0].args["short_url"] != "https://rzp.io/i/sub" {
		t.Errorf("short_url = %v; want subscription link", links[0].args["short_url"])
	}

	preDue := scheduler.byName(models.TaskPreDueReminder)
	if len(preDue) != 1 || preDue[0].at == nil {
		t.Fatalf("pre-due reminders = %+v; want exactly one scheduled", preDue)
	}
	if want := dueDate.AddDate(0, 0, -3); !preDue[0].at.Equal(want) {
		t.Errorf("pre-due reminder at %v; want %v", preDue[0].at, want)
	}

	onDue := scheduler.byName(models.TaskDueDateReminder)
	if len(onDue) != 1 || onDue[0].at == nil {
		t.Fatalf("due-date reminders = %+v; want exactly one scheduled", onDue)
	}
	if !onDue[0].at.Equal(dueDate) {
		t.Errorf("due-date reminder at %v; want %v", onDue[0].at, dueDate)
	}
}

func TestProvisionBatchContinuesAfterFailure(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{failPlanCreate: true}
	scheduler := &fakeScheduler{}
	svc := NewDueService(db, nil, provider, scheduler)

	owner, customer := seedOwnerAndCustomer(t, db, 0, "cust_existing")

	dueDate := time.Now().AddDate(0, 0, 7)
	failing := &models.Due{
		UUID:            "sub-fail",
		CreatorID:       owner.ID,
		CustomerID:      customer.ID,
		TransactionType: models.TransactionTypeSubscription,
		Amount:          200,
		Name:            "Doomed subscription",
		DueDate:         &dueDate,
		Months:          3,
	}
	fixed := &models.Due{
		UUID:            "fixed-ok",
		CreatorID:       owner.ID,
		CustomerID:      customer.ID,
		TransactionType: models.TransactionTypeFixed,
		Amount:          300,
		Name:            "One-off charge",
	}
	if err := db.Create(failing).Error; err != nil {
		t.Fatalf("failed to create due: %v", err)
	}
	if err := db.Create(fixed).Error; err != nil {
		t.Fatalf("failed to create due: %v", err)
	}

	svc.ProvisionDues(context.Background(), []*models.Due{failing, fixed})

	// The failing due keeps the mutations applied before the failure
	var first models.Due
	db.First(&first, failing.ID)
	if first.InvoiceNum != 1 {
		t.Errorf("failing due invoice_num = %d; want 1", first.InvoiceNum)
	}
	if first.RazorPayID != "" {
		t.Errorf("failing due razor_pay_id = %q; want empty", first.RazorPayID)
	}

	// The second due is provisioned regardless
	var second models.Due
	db.First(&second, fixed.ID)
	if second.InvoiceNum != 2 {
		t.Errorf("second due invoice_num = %d; want 2", second.InvoiceNum)
	}
	if second.RazorPayID != "inv_fake001" {
		t.Errorf("second due razor_pay_id = %q; want inv_fake001", second.RazorPayID)
	}
	if provider.invoiceCalls != 1 {
		t.Errorf("invoiceCalls = %d; want 1", provider.invoiceCalls)
	}
}

func TestReconcilePayment(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{}
	scheduler := &fakeScheduler{}
	svc := NewDueService(db, nil, provider, scheduler)

	owner, customer := seedOwnerAndCustomer(t, db, 0, "cust_existing")

	dueDate := time.Now().AddDate(0, 0, 5)
	due := &models.Due{
		UUID:            "sub-paid",
		CreatorID:       owner.ID,
		CustomerID:      customer.ID,
		TransactionType: models.TransactionTypeSubscription,
		Amount:          750,
		Name:            "Paid subscription",
		DueDate:         &dueDate,
		Months:          12,
		RazorPayID:      "sub_paid001",
	}
	if err := db.Create(due).Error; err != nil {
		t.Fatalf("failed to create due: %v", err)
	}

	payload := map[string]interface{}{
		"event": "subscription.charged",
		"payload": map[string]interface{}{
			"subscription": map[string]interface{}{
				"entity": map[string]interface{}{"id": "sub_paid001"},
			},
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{"id": "pay_abc", "amount": 75000.0},
			},
		},
	}

	if err := svc.ReconcilePayment("subscription.charged", payload); err != nil {
		t.Fatalf("ReconcilePayment returned error: %v", err)
	}

	var payment models.Payment
	if err := db.First(&payment, "razorpay_id = ?", "pay_abc").Error; err != nil {
		t.Fatalf("payment row not created: %v", err)
	}
	if payment.DueID != due.ID {
		t.Errorf("payment due_id = %d; want %d", payment.DueID, due.ID)
	}
	if payment.Amount != 750 {
		t.Errorf("payment amount = %v; want 750", payment.Amount)
	}

	var reloaded models.Due
	db.First(&reloaded, due.ID)
	if !reloaded.IsPaid {
		t.Errorf("due not marked paid")
	}
	if reloaded.DueDate != nil {
		t.Errorf("due_date = %v; want nil after reconciliation", reloaded.DueDate)
	}

	// A retried webhook must not produce a second payment row
	if err := svc.ReconcilePayment("subscription.charged", payload); err != nil {
		t.Fatalf("repeated ReconcilePayment returned error: %v", err)
	}
	var count int64
	db.Model(&models.Payment{}).Where("razorpay_id = ?", "pay_abc").Count(&count)
	if count != 1 {
		t.Errorf("payment rows = %d; want 1", count)
	}
}

func TestResolveProviderCustomerWaitsForLockHolder(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{}
	svc := NewDueService(db, nil, provider, &fakeScheduler{})

	_, customer := seedOwnerAndCustomer(t, db, 0, "")

	// While the lock is held, the holder finishes creating the provider
	// record and persists its id; the waiter must pick that up instead of
	// creating a second one.
	locker := &fakeLocker{refusals: 2}
	locker.onRefusal = func() {
		db.Model(&models.User{}).Where("id = ?", customer.ID).
			Update("razor_pay_id", "cust_by_holder")
	}
	svc.locker = locker
	shortenLockBackoff(t, 10)

	record, err := svc.resolveProviderCustomer(context.Background(), customer)
	if err != nil {
		t.Fatalf("resolveProviderCustomer returned error: %v", err)
	}
	if id, _ := record["id"].(string); id != "cust_by_holder" {
		t.Errorf("record id = %q; want cust_by_holder", id)
	}
	if provider.createCustomerCalls != 0 {
		t.Errorf("createCustomerCalls = %d; want 0 when the holder already created the record", provider.createCustomerCalls)
	}
	if provider.fetchCustomerCalls != 1 {
		t.Errorf("fetchCustomerCalls = %d; want 1", provider.fetchCustomerCalls)
	}
	if locker.acquires != 3 {
		t.Errorf("acquire attempts = %d; want 3", locker.acquires)
	}
	if locker.releases != 1 {
		t.Errorf("lock releases = %d; want 1", locker.releases)
	}
}

func TestResolveProviderCustomerNeverCreatesWithoutLock(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{}
	svc := NewDueService(db, nil, provider, &fakeScheduler{})

	_, customer := seedOwnerAndCustomer(t, db, 0, "")

	locker := &fakeLocker{refusals: 1 << 30}
	svc.locker = locker
	shortenLockBackoff(t, 3)

	if _, err := svc.resolveProviderCustomer(context.Background(), customer); err == nil {
		t.Fatal("resolveProviderCustomer succeeded without ever holding the lock")
	}
	if provider.createCustomerCalls != 0 {
		t.Errorf("createCustomerCalls = %d; want 0 when the lock is never acquired", provider.createCustomerCalls)
	}
	if locker.acquires != 3 {
		t.Errorf("acquire attempts = %d; want 3", locker.acquires)
	}
	if locker.releases != 0 {
		t.Errorf("lock releases = %d; want 0", locker.releases)
	}
}

func TestReconcileWithoutPaymentEntityIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewDueService(db, nil, &fakeProvider{}, &fakeScheduler{})

	owner, customer := seedOwnerAndCustomer(t, db, 0, "cust_existing")

	due := &models.Due{
		UUID:            "fixed-nopay",
		CreatorID:       owner.ID,
		CustomerID:      customer.ID,
		TransactionType: models.TransactionTypeFixed,
		Amount:          250,
		Name:            "One-off charge",
		RazorPayID:      "inv_nopay001",
	}
	if err := db.Create(due).Error; err != nil {
		t.Fatalf("failed to create due: %v", err)
	}

	// No payment entity in the payload
	payload := map[string]interface{}{
		"event": "invoice.paid",
		"payload": map[string]interface{}{
			"invoice": map[string]interface{}{
				"entity": map[string]interface{}{"id": "inv_nopay001"},
			},
		},
	}

	if err := svc.ReconcilePayment("invoice.paid", payload); err != nil {
		t.Fatalf("ReconcilePayment returned error: %v", err)
	}
	if err := svc.ReconcilePayment("invoice.paid", payload); err != nil {
		t.Fatalf("repeated ReconcilePayment returned error: %v", err)
	}

	var count int64
	db.Model(&models.Payment{}).Where("due_id = ?", due.ID).Count(&count)
	if count != 1 {
		t.Errorf("payment rows = %d; want 1 for a retried event", count)
	}

	var reloaded models.Due
	db.First(&reloaded, due.ID)
	if !reloaded.IsPaid {
		t.Errorf("due not marked paid")
	}
}

func TestReconcileIgnoresUnknownEvents(t *testing.T) {
	db := newTestDB(t)
	svc := NewDueService(db, nil, &fakeProvider{}, &fakeScheduler{})

	if err := svc.ReconcilePayment("payment.authorized", map[string]interface{}{}); err != nil {
		t.Fatalf("unknown event should be ignored, got error: %v", err)
	}

	var count int64
	db.Model(&models.Payment{}).Count(&count)
	if count != 0 {
		t.Errorf("payment rows = %d; want 0", count)
	}
}
