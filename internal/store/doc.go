// Package store provides SQLite-backed durable storage for a cashier register.
//
// It holds three things:
//   - kv: opaque keyed snapshots (the offline session, per-company cart and
//     product state). Writers replace whole values; nothing is merged.
//   - outbox: offline sale operations, unique per (company_id, sale_number)
//     and always read back ORDER BY seq ASC so replay follows enqueue order.
//   - drain_leases: short-lived leases serializing drain passes across
//     processes sharing the database file.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Errors are returned wrapped with the failing operation; callers classify
// them as persistence failures.
package store
