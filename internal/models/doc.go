// Package models defines the core domain models for duoledger.
//
// # Models
//
//   - Expense: one row of the shared ledger, owned by the store
//   - ExpenseFields: the mutable subset of an Expense (name, amount, kind, payer)
//   - Session: an authenticated identity issued by the identity provider
//
// # Parties
//
// The ledger has exactly two parties, PartyA and PartyB. Their display names are
// configuration, not data: rows only ever carry the party token.
//
// # Design Principles
//
//  1. Rows are replaced, never patched: the client holds read-only copies
//  2. Amounts are exact decimals; rounding happens only when displayed
//  3. Identifiers and owners are assigned once and never change
package models
