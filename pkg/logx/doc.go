// Package logx configures alarmd's structured logging.
//
// Components share a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - The operational log file JSON-structured, one timestamped line per event
//   - An optional alert sink (min-level + rate limiting) for operators
package logx
