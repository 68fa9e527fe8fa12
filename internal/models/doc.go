// Package models defines the core domain models for tabsplit.
//
// # Bills and items
//
//   - Bill: one uploaded receipt, shared through a link
//   - Item: a receipt line with a fixed unit price and integer quantity
//   - Participant: a person splitting the bill, identified by ID only
//
// Items are created once when the bill is ingested and never resized. The
// only mutable field on an Item is PoolReserved.
//
// # Allocations
//
//   - Claim: units of an item that belong to exactly one participant
//   - SharedPoolMembership: membership in the item's single shared pool,
//     whose cost (UnitPrice × PoolReserved) is split evenly across members
//
// ItemState and ItemChange describe one item's allocation state as read
// inside a store transaction and the typed mutation written back. They are
// the only way allocation state is modified.
//
// # Design Principles
//
// 1. **No pointers between records**: relationships are ID strings
// 2. **Money is decimal**: prices and totals use shopspring/decimal
// 3. **Timestamps are Unix integers**: CreatedAt in seconds, JoinedAt in nanoseconds
package models
