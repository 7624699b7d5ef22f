// Package logx configures the bot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Log levels/sinks swappable at runtime via Service.Apply()
//
// Components receive a Logger tagged with a "component" field and never
// touch zerolog directly.
package logx
