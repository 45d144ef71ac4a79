package model

import "time"

// MaxStrokes bounds the strokes kept per session; older strokes are evicted first.
const MaxStrokes = 500

// Point is a single canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one drawn line on the shared canvas.
type Stroke struct {
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	UserID string  `json:"userId,omitempty"`
}

// MemoryItem is one entry of a reorderable list.
type MemoryItem struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Label string `json:"label,omitempty"`
	Time  string `json:"time,omitempty"`
}

// RealtimeState is the per-session live-state cache used for snapshot recovery.
// Version increases by exactly one on every successful mutating write.
type RealtimeState struct {
	SessionID   string        `json:"sessionId"`
	Version     int64         `json:"version"`
	Payload     VowThreadData `json:"payload"`
	Strokes     []Stroke      `json:"strokes"`
	MemoryItems []MemoryItem  `json:"memoryItems"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// NewRealtimeState returns the empty state a session starts with.
func NewRealtimeState(sessionID string) *RealtimeState {
	return &RealtimeState{
		SessionID:   sessionID,
		Payload:     EmptyVowThreadData(),
		Strokes:     []Stroke{},
		MemoryItems: []MemoryItem{},
	}
}

// Clone returns a deep copy so callers can build the next state without touching this one.
func (s *RealtimeState) Clone() *RealtimeState {
	out := *s
	out.Payload = s.Payload.Clone()
	out.Strokes = make([]Stroke, len(s.Strokes))
	for i, st := range s.Strokes {
		st.Points = append([]Point(nil), st.Points...)
		out.Strokes[i] = st
	}
	out.MemoryItems = append([]MemoryItem{}, s.MemoryItems...)
	return &out
}
