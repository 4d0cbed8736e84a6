// Package harness runs scripted register sessions and checks what they
// produce.
//
// A scenario drives a real register (SQLite store, outbox, HTTP client)
// against an in-process back office whose availability the scenario toggles.
// Wall time is frozen at the scenario's start and only moves on an advance
// step, so sale numbers and payload timestamps are reproducible.
//
// # Scenario Format
//
//	name: offline_checkout
//	description: "A sale rung up while the back office is down is queued"
//	base_currency: YER
//	now: 2026-03-01T09:30:00Z
//	online: false
//	operator: {cashierId: cashier-1, branchId: main, companyId: acme}
//	rates:
//	  - {from: YER, to: USD, rate: 500}
//	products:
//	  - id: A
//	    name: Item A
//	    units: [{id: unit, name: Unit, price: "10.00", stock: 10}]
//	steps:
//	  - action: add_item
//	    product: A
//	    unit: unit
//	    qty: 1
//	  - action: checkout
//	    received: 10
//	    expect: {outcome: queued, sale_number: OFFLINE-1772357400000}
//	assertions:
//	  - {type: queue_length, count: 1}
//	  - {type: stock, product: A, unit: unit, count: 9}
//
// # Step Actions
//
//   - add_item, update_quantity, change_unit, remove_item, clear_cart
//   - create_cart, set_active, remove_cart, set_discount
//   - set_online, advance, checkout, drain
//
// # Assertion Types
//
//   - stock: available quantity of one selling unit
//   - totals: active cart totals (before, discount, after)
//   - queue_length: sales waiting in the outbox
//   - carts: number of open carts
//   - cart_lines: lines in the active cart
//   - sales_recorded: sales the back office holds for the company
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON of the last sale payload against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
