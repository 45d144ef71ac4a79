package model

import (
	"slices"
	"time"
)

// ModuleID identifies one of the activities that contribute to a vow thread.
type ModuleID string

const (
	ModuleDopamineDeck     ModuleID = "dopamine-deck"
	ModulePulseSync        ModuleID = "pulse-sync"
	ModuleMemoryLoom       ModuleID = "memory-loom"
	ModuleAffirmationOrbit ModuleID = "affirmation-orbit"
	ModuleCoopCanvas       ModuleID = "coop-canvas"
)

// Modules is the allow-list of module identifiers.
var Modules = []ModuleID{
	ModuleDopamineDeck,
	ModulePulseSync,
	ModuleMemoryLoom,
	ModuleAffirmationOrbit,
	ModuleCoopCanvas,
}

// Valid reports whether m is in the allow-list.
func (m ModuleID) Valid() bool {
	return slices.Contains(Modules, m)
}

// VowThreadData is the merged result document shared by both participants.
type VowThreadData struct {
	ChallengesAccepted []string     `json:"challengesAccepted"`
	PulseSyncScore     float64      `json:"pulseSyncScore"`
	MemoryTimeline     []MemoryItem `json:"memoryTimeline"`
	Affirmations       []string     `json:"affirmations"`
	CanvasImageURL     *string      `json:"canvasImageURL"`
}

// EmptyVowThreadData returns the zero document with non-nil slices.
func EmptyVowThreadData() VowThreadData {
	return VowThreadData{
		ChallengesAccepted: []string{},
		MemoryTimeline:     []MemoryItem{},
		Affirmations:       []string{},
	}
}

// Clone returns a deep copy with nil slices replaced by empty ones.
func (d VowThreadData) Clone() VowThreadData {
	out := VowThreadData{
		ChallengesAccepted: append([]string{}, d.ChallengesAccepted...),
		PulseSyncScore:     d.PulseSyncScore,
		MemoryTimeline:     append([]MemoryItem{}, d.MemoryTimeline...),
		Affirmations:       append([]string{}, d.Affirmations...),
	}
	if d.CanvasImageURL != nil {
		url := *d.CanvasImageURL
		out.CanvasImageURL = &url
	}
	return out
}

// VowContribution is a partial update to VowThreadData. A nil field is absent and
// leaves the current value alone; a non-nil field replaces it, even when empty.
type VowContribution struct {
	ChallengesAccepted *[]string     `json:"challengesAccepted,omitempty"`
	PulseSyncScore     *float64      `json:"pulseSyncScore,omitempty"`
	MemoryTimeline     *[]MemoryItem `json:"memoryTimeline,omitempty"`
	Affirmations       *[]string     `json:"affirmations,omitempty"`
	CanvasImageURL     *string       `json:"canvasImageURL,omitempty"`
}

// VowThread is the authoritative aggregate persisted per session.
type VowThread struct {
	SessionID        string        `json:"sessionId"`
	Data             VowThreadData `json:"data"`
	ModulesCompleted []ModuleID    `json:"modulesCompleted"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// NewVowThread returns an empty aggregate for a session.
func NewVowThread(sessionID string) *VowThread {
	return &VowThread{
		SessionID:        sessionID,
		Data:             EmptyVowThreadData(),
		ModulesCompleted: []ModuleID{},
	}
}
