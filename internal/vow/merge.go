package vow

import "github.com/the-vow/backend/internal/model"

// Merge applies a contribution to current and returns the result. Every field the
// contribution sets replaces the current value outright; unset fields pass through.
// Neither argument is modified.
func Merge(current model.VowThreadData, c model.VowContribution) model.VowThreadData {
	out := current.Clone()
	if c.ChallengesAccepted != nil {
		out.ChallengesAccepted = append([]string{}, (*c.ChallengesAccepted)...)
	}
	if c.PulseSyncScore != nil {
		out.PulseSyncScore = *c.PulseSyncScore
	}
	if c.MemoryTimeline != nil {
		out.MemoryTimeline = append([]model.MemoryItem{}, (*c.MemoryTimeline)...)
	}
	if c.Affirmations != nil {
		out.Affirmations = append([]string{}, (*c.Affirmations)...)
	}
	if c.CanvasImageURL != nil {
		url := *c.CanvasImageURL
		out.CanvasImageURL = &url
	}
	return out
}
