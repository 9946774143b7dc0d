// Package storage provides a minimal persistence layer for detected TTI
// results.
//
// It currently supports:
//   - Append-only result records (one row per emitted TTI)
//   - Recent-result listing for the HTTP API
//   - Retention pruning driven by the janitor
package storage
