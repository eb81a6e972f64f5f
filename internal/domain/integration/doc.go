// Package integration contains the CRM Integration bounded context.
// This context links a tenant to external CRM platforms (HubSpot and friends)
// through one provider contract.
//
// Key concepts:
//   - Connection: a tenant's configured link to one CRM vendor, with an
//     active/error/disabled lifecycle
//   - Provider: port implemented by each vendor adapter (contacts, companies,
//     deals, activities, schema discovery)
//   - DiscoveredField: normalized description of one remote schema field
//   - FailureKind: classification used by the resilience policy around
//     every provider call
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
