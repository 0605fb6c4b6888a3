// Package logx is the structured logger shared by every remindbot component.
//
// Logger wraps zerolog with field helpers. A Service owns the sinks (console,
// JSON file and an optional rate-limited Telegram chat) and can be
// reconfigured at runtime; loggers derived from it follow the change.
package logx
