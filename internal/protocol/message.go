package protocol

import (
	"github.com/the-vow/backend/internal/model"
)

// Type names a message variant.
type Type string

const (
	TypeSync            Type = "sync"
	TypeStroke          Type = "stroke"
	TypeOrbReveal       Type = "orb_reveal"
	TypeCanvasClear     Type = "canvas_clear"
	TypeMemoryReorder   Type = "memory_reorder"
	TypeHeartbeat       Type = "heartbeat"
	TypeSnapshotRequest Type = "snapshot_request"
	TypeSnapshot        Type = "snapshot"
	TypeVowContribution Type = "vow_contribution"
	TypeModuleComplete  Type = "module_complete"
)

// Types lists every variant of the closed message set.
var Types = []Type{
	TypeSync,
	TypeStroke,
	TypeOrbReveal,
	TypeCanvasClear,
	TypeMemoryReorder,
	TypeHeartbeat,
	TypeSnapshotRequest,
	TypeSnapshot,
	TypeVowContribution,
	TypeModuleComplete,
}

// Payload is implemented by every variant's payload type.
type Payload interface {
	MessageType() Type
}

// Message is one decoded frame. Payload always holds the concrete type for Type.
type Message struct {
	Type    Type
	Payload Payload
}

// New wraps a payload in a Message of the matching type.
func New(p Payload) Message {
	return Message{Type: p.MessageType(), Payload: p}
}

// Phase is the state of a synchronized hold.
type Phase string

const (
	PhaseHold    Phase = "hold"
	PhaseRelease Phase = "release"
)

// SyncPayload reports a hold or release in the pulse-sync activity.
type SyncPayload struct {
	Phase     Phase   `json:"phase"`
	Timestamp float64 `json:"timestamp"`
}

// StrokePayload is one drawn stroke.
type StrokePayload struct {
	Points []model.Point `json:"points"`
	Color  string        `json:"color"`
	Width  float64       `json:"width"`
	UserID string        `json:"userId"`
}

// Stroke converts the payload to the persisted stroke shape.
func (p StrokePayload) Stroke() model.Stroke {
	return model.Stroke{
		Points: append([]model.Point(nil), p.Points...),
		Color:  p.Color,
		Width:  p.Width,
		UserID: p.UserID,
	}
}

// OrbRevealPayload reveals the text behind an orb.
type OrbRevealPayload struct {
	OrbID string `json:"orbId"`
	Text  string `json:"text"`
}

// CanvasClearPayload carries no data.
type CanvasClearPayload struct{}

// MemoryReorderItem is an optional richer description of a reordered entry.
type MemoryReorderItem struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Time  string `json:"time,omitempty"`
}

// MemoryReorderPayload carries the new order of the memory list.
type MemoryReorderPayload struct {
	ItemIDs []string            `json:"itemIds"`
	Items   []MemoryReorderItem `json:"items,omitempty"`
}

// MemoryItems returns the ordered list to persist: the richer items when supplied,
// otherwise entries synthesized from the bare identifiers.
func (p MemoryReorderPayload) MemoryItems() []model.MemoryItem {
	if p.Items != nil {
		out := make([]model.MemoryItem, len(p.Items))
		for i, it := range p.Items {
			out[i] = model.MemoryItem{ID: it.ID, Order: i, Label: it.Label, Time: it.Time}
		}
		return out
	}
	out := make([]model.MemoryItem, len(p.ItemIDs))
	for i, id := range p.ItemIDs {
		out[i] = model.MemoryItem{ID: id, Order: i}
	}
	return out
}

// HeartbeatPayload is a client liveness signal.
type HeartbeatPayload struct {
	Timestamp float64 `json:"timestamp"`
}

// SnapshotRequestPayload carries no data.
type SnapshotRequestPayload struct{}

// SnapshotPayload is a full copy of a session's live state sent to one client.
type SnapshotPayload struct {
	Version          int64               `json:"version"`
	SessionID        string              `json:"sessionId"`
	VowThread        model.VowThreadData `json:"vowThread"`
	Strokes          []model.Stroke      `json:"strokes"`
	MemoryItems      []model.MemoryItem  `json:"memoryItems"`
	ModulesCompleted []model.ModuleID    `json:"modulesCompleted,omitempty"`
	CompletedAt      *int64              `json:"completedAt,omitempty"`
}

// VowContributionPayload is a partial update to the vow thread from one module.
type VowContributionPayload struct {
	Module model.ModuleID        `json:"module"`
	Data   model.VowContribution `json:"data"`
}

// ModuleCompletePayload marks a module as finished. CompletedAt is epoch milliseconds.
type ModuleCompletePayload struct {
	Module      model.ModuleID `json:"module"`
	CompletedAt float64        `json:"completedAt"`
}

func (SyncPayload) MessageType() Type            { return TypeSync }
func (StrokePayload) MessageType() Type          { return TypeStroke }
func (OrbRevealPayload) MessageType() Type       { return TypeOrbReveal }
func (CanvasClearPayload) MessageType() Type     { return TypeCanvasClear }
func (MemoryReorderPayload) MessageType() Type   { return TypeMemoryReorder }
func (HeartbeatPayload) MessageType() Type       { return TypeHeartbeat }
func (SnapshotRequestPayload) MessageType() Type { return TypeSnapshotRequest }
func (SnapshotPayload) MessageType() Type        { return TypeSnapshot }
func (VowContributionPayload) MessageType() Type { return TypeVowContribution }
func (ModuleCompletePayload) MessageType() Type  { return TypeModuleComplete }
