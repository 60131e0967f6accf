package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"duespay_app/internal/middleware"
	"duespay_app/internal/models"
	"duespay_app/internal/services"
)

var paymentOrderColumns = map[string]string{
	"created_on": "payments.created_at",
	"id":         "payments.id",
	"due_id":     "payments.due_id",
}

// PaymentHandler exposes payments read-only. Payment rows are derived from
// provider events; every write is rejected.
type PaymentHandler struct {
	db     *gorm.DB
	access *services.AccessPolicy
}

func NewPaymentHandler(db *gorm.DB, access *services.AccessPolicy) *PaymentHandler {
	return &PaymentHandler{db: db, access: access}
}

// ListPayments returns payments for dues created by the requesting user
func (h *PaymentHandler) ListPayments(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	query := h.access.ScopePayments(h.db.Model(&models.Payment{}), user.ID)

	query = applyEqualInFilter(query, c, "id", "payments.id")
	query = applyEqualInFilter(query, c, "razorpay_id", "payments.razorpay_id")
	query = applyEqualInFilter(query, c, "due_id", "payments.due_id")

	var err error
	if query, err = applyDateTimeFilter(query, c, "created_on", "payments.created_at"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	order, err := buildOrder(c.QueryParam("order_by"), paymentOrderColumns, "payments.created_at desc")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to count payments")
	}

	page, pageSize := parsePagination(c)

	var payments []models.Payment
	if err := query.Order(order).Limit(pageSize).Offset((page - 1) * pageSize).Find(&payments).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch payments")
	}

	return c.JSON(http.StatusOK, ListResponse{Data: payments, Page: page, PageSize: pageSize, TotalCount: totalCount})
}

// GetPayment returns a single payment owned via its due's creator
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	var payment models.Payment
	err := h.access.ScopePayments(h.db.Model(&models.Payment{}), user.ID).
		First(&payment, "payments.id = ?", c.Param("id")).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Payment not found")
	}

	return c.JSON(http.StatusOK, payment)
}

// RejectWrite refuses creation, modification and deletion of payments
func (h *PaymentHandler) RejectWrite(c echo.Context) error {
	return echo.NewHTTPError(http.StatusForbidden, "Payments are created by payment reconciliation only")
}
