package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"duespay_app/internal/middleware"
	"duespay_app/internal/models"
	"duespay_app/internal/services"
)

var dueOrderColumns = map[string]string{
	"created_on": "created_at",
	"id":         "id",
	"due_date":   "due_date",
}

type DueHandler struct {
	db     *gorm.DB
	access *services.AccessPolicy
	dues   *services.DueService
}

func NewDueHandler(db *gorm.DB, access *services.AccessPolicy, dues *services.DueService) *DueHandler {
	return &DueHandler{db: db, access: access, dues: dues}
}

// ListDues returns the requesting user's dues with filtering and sorting
func (h *DueHandler) ListDues(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	query := h.access.ScopeDues(h.db.Model(&models.Due{}), user.ID)

	query = applyEqualInFilter(query, c, "id", "dues.id")
	query = applyEqualInFilter(query, c, "creator_id", "dues.creator_id")
	query = applyEqualInFilter(query, c, "customer_id", "dues.customer_id")
	query = applyEqualInFilter(query, c, "transaction_type", "dues.transaction_type")

	var err error
	if query, err = applyDateTimeFilter(query, c, "created_on", "dues.created_at"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if query, err = applyDateTimeFilter(query, c, "due_date", "dues.due_date"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if query, err = applyBoolFilter(query, c, "is_paid", "dues.is_paid"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if query, err = applyBoolFilter(query, c, "is_cancelled", "dues.is_cancelled"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	order, err := buildOrder(c.QueryParam("order_by"), dueOrderColumns, "created_at desc")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to count dues")
	}

	page, pageSize := parsePagination(c)

	var dues []models.Due
	if err := query.Order(order).Limit(pageSize).Offset((page - 1) * pageSize).Find(&dues).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch dues")
	}

	return c.JSON(http.StatusOK, ListResponse{Data: dues, Page: page, PageSize: pageSize, TotalCount: totalCount})
}

// GetDue returns a single due owned by the requesting user
func (h *DueHandler) GetDue(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	var due models.Due
	err := h.access.ScopeDues(h.db.Preload("Payments"), user.ID).
		First(&due, "dues.id = ?", c.Param("id")).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Due not found")
	}

	return c.JSON(http.StatusOK, due)
}

// CreateDues accepts one due or a batch, persists drafts and provisions
// them synchronously against the payment provider.
func (h *DueHandler) CreateDues(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	requests, err := bindDueCreateBatch(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(requests) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Empty due batch")
	}

	dues := make([]*models.Due, 0, len(requests))
	for i, req := range requests {
		due, err := dueFromRequest(req)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("item %d: %v", i, err))
		}
		dues = append(dues, due)
	}

	allowed, err := h.access.PrepareDueCreate(user.ID, dues)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to verify customer ownership")
	}
	if !allowed {
		return echo.NewHTTPError(http.StatusForbidden, "One or more customers are not linked to your account")
	}

	if err := h.db.Transaction(func(tx *gorm.DB) error {
		for _, due := range dues {
			if err := tx.Create(due).Error; err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create dues")
	}

	h.dues.ProvisionDues(c.Request().Context(), dues)

	// Reload so the response reflects provisioning results
	ids := make([]uint, 0, len(dues))
	for _, due := range dues {
		ids = append(ids, due.ID)
	}
	var created []models.Due
	if err := h.db.Where("id IN ?", ids).Order("id").Find(&created).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to reload created dues")
	}

	return c.JSON(http.StatusCreated, ListResponse{Data: created, Page: 1, PageSize: len(created), TotalCount: int64(len(created))})
}

// UpdateDue applies the mutable fields, gated by the change permission
func (h *DueHandler) UpdateDue(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	var due models.Due
	if err := h.access.ScopeDues(h.db, user.ID).First(&due, "dues.id = ?", c.Param("id")).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Due not found")
	}

	canChange, err := h.access.CanChangeDue(user.ID, &due)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to verify customer ownership")
	}
	if !canChange {
		return echo.NewHTTPError(http.StatusForbidden, "You may not modify this due")
	}

	var req DueUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	if req.Name != nil {
		due.Name = *req.Name
	}
	if req.DueDate != nil {
		if *req.DueDate == "" {
			due.DueDate = nil
		} else {
			ts, err := parseDateTime(*req.DueDate)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid due_date")
			}
			due.DueDate = &ts
		}
	}
	if req.IsCancelled != nil {
		due.IsCancelled = *req.IsCancelled
	}

	if err := h.db.Save(&due).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update due")
	}

	return c.JSON(http.StatusOK, due)
}

// DeleteDue is always denied; dues carry their history
func (h *DueHandler) DeleteDue(c echo.Context) error {
	return echo.NewHTTPError(http.StatusForbidden, "Dues cannot be deleted")
}

func bindDueCreateBatch(c echo.Context) ([]DueCreateRequest, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}

	var batch []DueCreateRequest
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, nil
	}

	var single DueCreateRequest
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("request body must be a due object or an array of due objects")
	}
	return []DueCreateRequest{single}, nil
}

func dueFromRequest(req DueCreateRequest) (*models.Due, error) {
	transactionType := models.TransactionType(req.TransactionType)
	if transactionType != models.TransactionTypeFixed && transactionType != models.TransactionTypeSubscription {
		return nil, fmt.Errorf("transaction_type must be %q or %q", models.TransactionTypeFixed, models.TransactionTypeSubscription)
	}
	if req.CustomerID == 0 {
		return nil, fmt.Errorf("customer_id is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	var dueDate *time.Time
	if req.DueDate != nil && *req.DueDate != "" {
		ts, err := parseDateTime(*req.DueDate)
		if err != nil {
			return nil, fmt.Errorf("invalid due_date: %v", err)
		}
		dueDate = &ts
	}

	if transactionType == models.TransactionTypeSubscription {
		if dueDate == nil {
			return nil, fmt.Errorf("due_date is required for subscriptions")
		}
		if req.Months < 1 {
			return nil, fmt.Errorf("months must be at least 1 for subscriptions")
		}
	}

	return &models.Due{
		UUID:            uuid.New().String(),
		CustomerID:      req.CustomerID,
		TransactionType: transactionType,
		Amount:          req.Amount,
		Name:            req.Name,
		DueDate:         dueDate,
		Months:          req.Months,
	}, nil
}
