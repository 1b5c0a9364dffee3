// Package ledger implements the finance-core ledger service: the reliable
// write pipeline behind multi-tenant financial record keeping.
//
// Layering:
// - domain: documents, the transaction workflow, audit chain, work items, role policy
// - application: idempotent mutation pipeline, queries, outbox relay and work-queue runner
// - ports: persistence, audit, queue, publisher and PII boundaries
// - adapters: memory, postgres (gorm), HTTP, PII sealing and bus publisher implementations
// - transport: module-private DTOs for HTTP contracts
//
// Boundary notes:
// - Every store operation spanning more than one row is one transaction.
// - Read views are derived only by the work queue, always by full recompute.
package ledger
