package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// Query-parameter filter helpers shared by the list endpoints. Operators
// follow the <field> / <field>__in / <field>__lte / <field>__gte naming of
// the query surface.

// applyEqualInFilter handles equality and comma-separated set membership
func applyEqualInFilter(query *gorm.DB, c echo.Context, param, column string) *gorm.DB {
	if val := c.QueryParam(param); val != "" {
		query = query.Where(column+" = ?", val)
	}
	if val := c.QueryParam(param + "__in"); val != "" {
		query = query.Where(column+" IN ?", strings.Split(val, ","))
	}
	return query
}

// applyDateTimeFilter handles equality and lte/gte comparisons on datetimes
func applyDateTimeFilter(query *gorm.DB, c echo.Context, param, column string) (*gorm.DB, error) {
	ops := []struct {
		suffix string
		clause string
	}{
		{"", column + " = ?"},
		{"__lte", column + " <= ?"},
		{"__gte", column + " >= ?"},
	}

	for _, op := range ops {
		val := c.QueryParam(param + op.suffix)
		if val == "" {
			continue
		}
		ts, err := parseDateTime(val)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s%s: %w", param, op.suffix, err)
		}
		query = query.Where(op.clause, ts)
	}
	return query, nil
}

// applyBoolFilter handles boolean equality
func applyBoolFilter(query *gorm.DB, c echo.Context, param, column string) (*gorm.DB, error) {
	val := c.QueryParam(param)
	if val == "" {
		return query, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", param, err)
	}
	return query.Where(column+" = ?", b), nil
}

func parseDateTime(val string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, val); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", val)
}

// buildOrder translates an order_by parameter (optionally "-"-prefixed for
// descending) into an ORDER BY clause, restricted to the allowed sort keys.
func buildOrder(orderBy string, allowed map[string]string, fallback string) (string, error) {
	if orderBy == "" {
		return fallback, nil
	}

	direction := "asc"
	if strings.HasPrefix(orderBy, "-") {
		direction = "desc"
		orderBy = strings.TrimPrefix(orderBy, "-")
	}

	column, ok := allowed[orderBy]
	if !ok {
		return "", fmt.Errorf("unsupported sort key: %s", orderBy)
	}
	return column + " " + direction, nil
}

// parsePagination reads page/page_size with sane bounds
func parsePagination(c echo.Context) (page, pageSize int) {
	page = 1
	if p, err := strconv.Atoi(c.QueryParam("page")); err == nil && p > 0 {
		page = p
	}
	pageSize = 20
	if ps, err := strconv.Atoi(c.QueryParam("page_size")); err == nil && ps > 0 && ps <= 100 {
		pageSize = ps
	}
	return page, pageSize
}
