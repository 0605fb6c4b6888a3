// Package tgui renders chat screens for Telegram's HTML parse mode:
// escaped text fragments, a line-oriented message builder, inline
// keyboards and the compact callback data format they carry.
package tgui
