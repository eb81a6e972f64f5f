// Package models holds the GORM rows behind crm_connections and
// crm_discovered_fields. Domain types never carry GORM tags; the
// ToDomain and FromDomain mappers here are the only bridge between the two.
package models
