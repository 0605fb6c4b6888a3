// Package storage persists reminder state so it survives restarts:
//   - pending one-shot reminders
//   - daily reminder definitions (with completion and delivery markers)
//   - per-chat timezone preferences
//   - the id of each chat's list message
package storage
