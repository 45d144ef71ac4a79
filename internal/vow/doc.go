// Package vow holds the pure rules that shape a session's vow thread: the
// last-writer-wins contribution merge, module completion tracking and the
// shareable vow card.
package vow
