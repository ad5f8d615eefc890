package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxPageSize is the maximum allowed page size for paginated queries
const MaxPageSize = 200

// DefaultPageSize is used when the caller does not ask for a page size
const DefaultPageSize = 20

// NormalizePagination clamps page and pageSize into valid ranges
func NormalizePagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// ApplyTenantFilter scopes a query to one tenant
func ApplyTenantFilter(query *gorm.DB, tenantID uuid.UUID) *gorm.DB {
	return query.Where("tenant_id = ?", tenantID)
}
