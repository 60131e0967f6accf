package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/razorpay/razorpay-go/utils"
	"gorm.io/gorm"

	"duespay_app/internal/models"
	"duespay_app/internal/services"
)

// WebhookHandler receives payment provider callbacks and feeds them into
// payment reconciliation.
type WebhookHandler struct {
	db            *gorm.DB
	dues          *services.DueService
	webhookSecret string
}

func NewWebhookHandler(db *gorm.DB, dues *services.DueService) *WebhookHandler {
	return &WebhookHandler{
		db:            db,
		dues:          dues,
		webhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
	}
}

// HandleRazorpay verifies, records and reconciles a Razorpay webhook. A
// non-2xx response makes the provider retry, so reconciliation failures
// surface as 500.
func (h *WebhookHandler) HandleRazorpay(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read webhook body")
	}

	signature := c.Request().Header.Get("X-Razorpay-Signature")
	if !utils.VerifyWebhookSignature(string(body), signature, h.webhookSecret) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid webhook signature")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed webhook payload")
	}
	event, _ := payload["event"].(string)

	history := models.PaymentCallbackHistory{
		PaymentGateway: models.PaymentGatewayRazorpay,
		Event:          event,
		Metadata:       body,
	}
	if err := h.db.Create(&history).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to record webhook")
	}

	if err := h.dues.ReconcilePayment(event, payload); err != nil {
		c.Logger().Errorf("webhook reconciliation failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Reconciliation failed")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
