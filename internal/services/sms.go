package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// SMSMessage is one message fanned out to a set of recipients
type SMSMessage struct {
	Message string   `json:"message"`
	To      []string `json:"to"`
}

// SMSService talks to the SMS gateway. Delivery is fire-and-forget; no
// delivery reports are consumed.
type SMSService struct {
	baseURL  string
	apiKey   string
	senderID string
	client   *http.Client
}

func NewSMSService() *SMSService {
	url := os.Getenv("SMS_GATEWAY_URL")
	if url == "" {
		url = "http://sms-gateway:9501"
	}
	return &SMSService{
		baseURL:  url,
		apiKey:   os.Getenv("SMS_API_KEY"),
		senderID: os.Getenv("SMS_SENDER_ID"),
		client:   &http.Client{},
	}
}

func (s *SMSService) makeRequest(method, endpoint string, payload interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("%s%s", s.baseURL, endpoint), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// NormalizeMSISDN standardizes Indian mobile numbers to E.164
func NormalizeMSISDN(number string) string {
	number = strings.TrimSpace(number)
	number = strings.NewReplacer(" ", "", "-", "").Replace(number)

	if strings.HasPrefix(number, "+") {
		return number
	}

	// Numbers written with the domestic trunk prefix
	if strings.HasPrefix(number, "0") {
		number = "91" + strings.TrimPrefix(number, "0")
	}

	// Bare 10-digit subscriber numbers
	if len(number) == 10 {
		number = "91" + number
	}

	return "+" + number
}

// SendSMS submits a batch of messages to the gateway
func (s *SMSService) SendSMS(content []SMSMessage) error {
	normalized := make([]SMSMessage, 0, len(content))
	for _, msg := range content {
		to := make([]string, 0, len(msg.To))
		for _, recipient := range msg.To {
			to = append(to, NormalizeMSISDN(recipient))
		}
		normalized = append(normalized, SMSMessage{Message: msg.Message, To: to})
	}

	payload := map[string]interface{}{
		"sender":   s.senderID,
		"messages": normalized,
	}

	if err := s.makeRequest("POST", "/api/v2/send", payload); err != nil {
		return fmt.Errorf("failed to send sms batch: %w", err)
	}

	return nil
}
