package vow

import (
	"slices"
	"time"

	"github.com/the-vow/backend/internal/model"
)

// RequiredModules is the number of distinct modules that completes a vow thread.
const RequiredModules = 5

// CompleteModule records m on the thread and reports whether it was newly added.
// The call that brings the count to RequiredModules stamps CompletedAt; later
// calls never move it.
func CompleteModule(t *model.VowThread, m model.ModuleID, at time.Time) bool {
	if slices.Contains(t.ModulesCompleted, m) {
		return false
	}
	t.ModulesCompleted = append(t.ModulesCompleted, m)
	if t.CompletedAt == nil && len(t.ModulesCompleted) >= RequiredModules {
		stamp := at
		t.CompletedAt = &stamp
	}
	return true
}

// Completed reports whether the thread has collected every required module.
func Completed(t *model.VowThread) bool {
	return t.CompletedAt != nil
}
