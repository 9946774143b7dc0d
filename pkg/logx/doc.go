// Package logx configures ttiwatch's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional alert sink (min-level + rate limiting) forwarding WARN+ lines
//     to a pluggable Sender (the notify service in the default wiring)
package logx
