package services

import (
	"fmt"
	"os"

	razorpay "github.com/razorpay/razorpay-go"
)

// PaymentProvider is the subset of the payment provider API the due
// lifecycle depends on. Responses are the provider's raw JSON mappings;
// callers only read "id" and "short_url".
type PaymentProvider interface {
	FetchCustomer(customerID string) (map[string]interface{}, error)
	CreateCustomer(name, contact string) (map[string]interface{}, error)
	CreatePlan(name string, amountMinor int64) (map[string]interface{}, error)
	CreateSubscription(planID, customerID string, totalCount int, startAt int64) (map[string]interface{}, error)
	CreateInvoiceLink(customerName, contact string, amountMinor int64, description string) (map[string]interface{}, error)
}

// RazorpayService wraps the Razorpay SDK client
type RazorpayService struct {
	client *razorpay.Client
}

// NewRazorpayService builds a client from RAZORPAY_KEY_ID and
// RAZORPAY_KEY_SECRET.
func NewRazorpayService() *RazorpayService {
	key := os.Getenv("RAZORPAY_KEY_ID")
	secret := os.Getenv("RAZORPAY_KEY_SECRET")

	return &RazorpayService{
		client: razorpay.NewClient(key, secret),
	}
}

// FetchCustomer retrieves an existing provider customer record
func (s *RazorpayService) FetchCustomer(customerID string) (map[string]interface{}, error) {
	resp, err := s.client.Customer.Fetch(customerID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay customer fetch: %w", err)
	}
	return resp, nil
}

// CreateCustomer registers a customer on the provider side
func (s *RazorpayService) CreateCustomer(name, contact string) (map[string]interface{}, error) {
	data := map[string]interface{}{
		"name":    name,
		"contact": contact,
	}
	resp, err := s.client.Customer.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay customer create: %w", err)
	}
	return resp, nil
}

// CreatePlan creates a monthly billing plan in INR minor units
func (s *RazorpayService) CreatePlan(name string, amountMinor int64) (map[string]interface{}, error) {
	data := map[string]interface{}{
		"period":   "monthly",
		"interval": 1,
		"item": map[string]interface{}{
			"name":        name,
			"description": name,
			"amount":      amountMinor,
			"currency":    "INR",
		},
	}
	resp, err := s.client.Plan.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay plan create: %w", err)
	}
	return resp, nil
}

// CreateSubscription creates a subscription on an existing plan, billed for
// totalCount cycles starting at the unix timestamp startAt.
func (s *RazorpayService) CreateSubscription(planID, customerID string, totalCount int, startAt int64) (map[string]interface{}, error) {
	data := map[string]interface{}{
		"plan_id":         planID,
		"total_count":     totalCount,
		"customer_notify": 1,
		"customer_id":     customerID,
		"start_at":        startAt,
	}
	resp, err := s.client.Subscription.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay subscription create: %w", err)
	}
	return resp, nil
}

// CreateInvoiceLink creates a one-time link-type invoice
func (s *RazorpayService) CreateInvoiceLink(customerName, contact string, amountMinor int64, description string) (map[string]interface{}, error) {
	data := map[string]interface{}{
		"customer": map[string]interface{}{
			"name":    customerName,
			"email":   "",
			"contact": contact,
		},
		"type":        "link",
		"view_less":   1,
		"amount":      amountMinor,
		"currency":    "INR",
		"description": description,
	}
	resp, err := s.client.Invoice.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay invoice create: %w", err)
	}
	return resp, nil
}
