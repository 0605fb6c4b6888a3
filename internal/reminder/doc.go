// Package reminder holds the domain types shared by the reminder services:
// keys, weekday sets, times of day, read-only views and the ports the
// services use to reach messaging and the list projector.
package reminder
