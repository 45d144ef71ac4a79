package vow

import (
	"time"

	"github.com/the-vow/backend/internal/model"
)

var memoryLabels = map[string]string{
	"1": "Morning coffee",
	"2": "Check messages",
	"3": "Deep work",
	"4": "Lunch break",
	"5": "Afternoon meetings",
}

// Card is the shareable summary of a finished (or in-progress) vow thread.
type Card struct {
	SessionID          string             `json:"sessionId"`
	SessionCode        string             `json:"sessionCode"`
	ChallengesAccepted []string           `json:"challengesAccepted"`
	PulseSyncScore     float64            `json:"pulseSyncScore"`
	MemoryTimeline     []model.MemoryItem `json:"memoryTimeline"`
	Affirmations       []string           `json:"affirmations"`
	CanvasImageURL     *string            `json:"canvasImageURL,omitempty"`
	CompletedAt        *int64             `json:"completedAt,omitempty"`
}

// SelectCard builds the card for a session. Timeline entries without a label fall
// back to the built-in label for their id, if there is one.
func SelectCard(session *model.Session, data model.VowThreadData, completedAt *time.Time) Card {
	data = data.Clone()
	for i, item := range data.MemoryTimeline {
		if item.Label == "" {
			data.MemoryTimeline[i].Label = memoryLabels[item.ID]
		}
	}

	card := Card{
		SessionID:          session.ID,
		SessionCode:        session.Code,
		ChallengesAccepted: data.ChallengesAccepted,
		PulseSyncScore:     data.PulseSyncScore,
		MemoryTimeline:     data.MemoryTimeline,
		Affirmations:       data.Affirmations,
		CanvasImageURL:     data.CanvasImageURL,
	}
	if completedAt != nil {
		ms := completedAt.UnixMilli()
		card.CompletedAt = &ms
	}
	return card
}
