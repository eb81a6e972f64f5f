// Package tenant provides tenant scoping for GORM queries.
//
// Every table that belongs to a tenant carries a tenant_id column. Queries
// against those tables go through Scope so a missing tenant id fails the
// statement instead of silently reading across tenants:
//
//	db.Scopes(tenant.Scope(tenantID)).Find(&connections)
package tenant

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Column is the tenant id column shared by tenant-owned tables
const Column = "tenant_id"

// ErrTenantIDRequired is returned when a tenant-scoped statement has no tenant
var ErrTenantIDRequired = errors.New("tenant_id is required for tenant-scoped query")

// Scope restricts the statement to rows of tenantID.
// A nil tenant id adds ErrTenantIDRequired to the statement so it never executes.
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == uuid.Nil {
			_ = db.AddError(ErrTenantIDRequired)
			return db
		}
		return db.Where(clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: Column},
			Value:  tenantID,
		})
	}
}

// ScopeString parses tenantID and applies Scope.
// Malformed ids are treated like a missing tenant.
func ScopeString(tenantID string) func(db *gorm.DB) *gorm.DB {
	id, err := uuid.Parse(tenantID)
	if err != nil {
		id = uuid.Nil
	}
	return Scope(id)
}
