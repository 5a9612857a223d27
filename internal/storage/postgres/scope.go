package postgres

import "gorm.io/gorm"

// TenantScope returns a GORM scope that filters by tenant_id.
// Must be applied to every query in every repository method; cross-tenant
// reads are a policy violation, not a feature.
func TenantScope(tenantID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}
