package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/the-vow/backend/internal/model"
)

const (
	// MaxPointsPerStroke bounds the number of points in one stroke.
	MaxPointsPerStroke = 500
	// MinStrokeWidth and MaxStrokeWidth bound a stroke's width.
	MinStrokeWidth = 1
	MaxStrokeWidth = 20
	// MaxOrbTextLength bounds orb text, counted in UTF-16 code units.
	MaxOrbTextLength = 200
)

var (
	// ErrMalformed is returned when a frame is not a JSON object with a string type.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownType is returned when the type is not one of the known variants.
	ErrUnknownType = errors.New("unknown message type")

	// ErrInvalidPayload is returned when a payload breaks its variant's rules.
	ErrInvalidPayload = errors.New("invalid payload")
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type envelope struct {
	Type    *string         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses one frame into a typed Message, or returns an error wrapping
// ErrMalformed, ErrUnknownType or ErrInvalidPayload.
func Decode(raw []byte) (Message, error) {
	if !isObject(raw) {
		return Message{}, fmt.Errorf("%w: frame is not a JSON object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	t := Type(*env.Type)
	decode, ok := decoders[t]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	payload, err := decode(env.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", t, err)
	}
	return Message{Type: t, Payload: payload}, nil
}

// Encode serializes a Message as {"type": ..., "payload": ...}.
func Encode(msg Message) ([]byte, error) {
	if msg.Payload == nil {
		return nil, fmt.Errorf("encode %s: nil payload", msg.Type)
	}
	if msg.Payload.MessageType() != msg.Type {
		return nil, fmt.Errorf("encode %s: payload is %s", msg.Type, msg.Payload.MessageType())
	}
	return json.Marshal(struct {
		Type    Type    `json:"type"`
		Payload Payload `json:"payload"`
	}{msg.Type, msg.Payload})
}

var decoders = map[Type]func(json.RawMessage) (Payload, error){
	TypeSync:            decodeSync,
	TypeStroke:          decodeStroke,
	TypeOrbReveal:       decodeOrbReveal,
	TypeCanvasClear:     func(json.RawMessage) (Payload, error) { return CanvasClearPayload{}, nil },
	TypeMemoryReorder:   decodeMemoryReorder,
	TypeHeartbeat:       decodeHeartbeat,
	TypeSnapshotRequest: func(json.RawMessage) (Payload, error) { return SnapshotRequestPayload{}, nil },
	TypeSnapshot:        decodeSnapshot,
	TypeVowContribution: decodeVowContribution,
	TypeModuleComplete:  decodeModuleComplete,
}

func decodeSync(raw json.RawMessage) (Payload, error) {
	var w struct {
		Phase     *string  `json:"phase"`
		Timestamp *float64 `json:"timestamp"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	if w.Phase == nil || (Phase(*w.Phase) != PhaseHold && Phase(*w.Phase) != PhaseRelease) {
		return nil, invalid("phase must be %q or %q", PhaseHold, PhaseRelease)
	}
	if w.Timestamp == nil {
		return nil, invalid("timestamp is required")
	}
	return SyncPayload{Phase: Phase(*w.Phase), Timestamp: *w.Timestamp}, nil
}

type wirePoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func decodeStroke(raw json.RawMessage) (Payload, error) {
	var w struct {
		Points *[]*wirePoint `json:"points"`
		Color  *string       `json:"color"`
		Width  *float64      `json:"width"`
		UserID *string       `json:"userId"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	if w.Points == nil {
		return nil, invalid("points is required")
	}
	if len(*w.Points) > MaxPointsPerStroke {
		return nil, invalid("stroke has %d points, limit is %d", len(*w.Points), MaxPointsPerStroke)
	}
	points := make([]model.Point, len(*w.Points))
	for i, pt := range *w.Points {
		if pt == nil || pt.X == nil || pt.Y == nil {
			return nil, invalid("point %d needs numeric x and y", i)
		}
		points[i] = model.Point{X: *pt.X, Y: *pt.Y}
	}
	if w.Color == nil || !colorPattern.MatchString(*w.Color) {
		return nil, invalid("color must match #RRGGBB")
	}
	if w.Width == nil || *w.Width < MinStrokeWidth || *w.Width > MaxStrokeWidth {
		return nil, invalid("width must be between %d and %d", MinStrokeWidth, MaxStrokeWidth)
	}
	if w.UserID == nil || *w.UserID == "" {
		return nil, invalid("userId is required")
	}
	return StrokePayload{Points: points, Color: *w.Color, Width: *w.Width, UserID: *w.UserID}, nil
}

func decodeOrbReveal(raw json.RawMessage) (Payload, error) {
	var w struct {
		OrbID *string `json:"orbId"`
		Text  *string `json:"text"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	if w.OrbID == nil {
		return nil, invalid("orbId is required")
	}
	if w.Text == nil {
		return nil, invalid("text is required")
	}
	if n := utf16Len(*w.Text); n > MaxOrbTextLength {
		return nil, invalid("text is %d characters, limit is %d", n, MaxOrbTextLength)
	}
	return OrbRevealPayload{OrbID: *w.OrbID, Text: *w.Text}, nil
}

func decodeMemoryReorder(raw json.RawMessage) (Payload, error) {
	var w struct {
		ItemIDs *[]*string `json:"itemIds"`
		Items   *[]*struct {
			ID    string `json:"id"`
			Label string `json:"label"`
			Time  string `json:"time"`
		} `json:"items"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	if w.ItemIDs == nil {
		return nil, invalid("itemIds is required")
	}
	ids := make([]string, len(*w.ItemIDs))
	for i, id := range *w.ItemIDs {
		if id == nil {
			return nil, invalid("itemIds[%d] must be a string", i)
		}
		ids[i] = *id
	}
	p := MemoryReorderPayload{ItemIDs: ids}
	if w.Items != nil {
		p.Items = make([]MemoryReorderItem, len(*w.Items))
		for i, it := range *w.Items {
			if it == nil {
				return nil, invalid("items[%d] must be an object", i)
			}
			p.Items[i] = MemoryReorderItem{ID: it.ID, Label: it.Label, Time: it.Time}
		}
	}
	return p, nil
}

func decodeHeartbeat(raw json.RawMessage) (Payload, error) {
	var w struct {
		Timestamp *float64 `json:"timestamp"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	if w.Timestamp == nil {
		return nil, invalid("timestamp is required")
	}
	return HeartbeatPayload{Timestamp: *w.Timestamp}, nil
}

func decodeVowContribution(raw json.RawMessage) (Payload, error) {
	var w struct {
		Module *string          `json:"module"`
		Data   *json.RawMessage `json:"data"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	module, err := decodeModule(w.Module)
	if err != nil {
		return nil, err
	}
	if w.Data == nil || !isObject(*w.Data) {
		return nil, invalid("data must be an object")
	}
	data, err := decodeContribution(*w.Data)
	if err != nil {
		return nil, err
	}
	return VowContributionPayload{Module: module, Data: data}, nil
}

// decodeContribution type-checks each optional field only when it is present.
// Unknown keys are ignored; a present null is rejected rather than treated as absent.
func decodeContribution(raw json.RawMessage) (model.VowContribution, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.VowContribution{}, invalid("data: %v", err)
	}

	var c model.VowContribution
	if v, ok := fields["challengesAccepted"]; ok {
		list, err := decodeStringList("challengesAccepted", v)
		if err != nil {
			return c, err
		}
		c.ChallengesAccepted = &list
	}
	if v, ok := fields["affirmations"]; ok {
		list, err := decodeStringList("affirmations", v)
		if err != nil {
			return c, err
		}
		c.Affirmations = &list
	}
	if v, ok := fields["memoryTimeline"]; ok {
		items, err := decodeMemoryItems("memoryTimeline", v)
		if err != nil {
			return c, err
		}
		c.MemoryTimeline = &items
	}
	if v, ok := fields["pulseSyncScore"]; ok {
		var score float64
		if isNull(v) || json.Unmarshal(v, &score) != nil {
			return c, invalid("pulseSyncScore must be a number")
		}
		c.PulseSyncScore = &score
	}
	if v, ok := fields["canvasImageURL"]; ok {
		var url string
		if isNull(v) || json.Unmarshal(v, &url) != nil {
			return c, invalid("canvasImageURL must be a string")
		}
		c.CanvasImageURL = &url
	}
	return c, nil
}

func decodeModuleComplete(raw json.RawMessage) (Payload, error) {
	var w struct {
		Module      *string  `json:"module"`
		CompletedAt *float64 `json:"completedAt"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	module, err := decodeModule(w.Module)
	if err != nil {
		return nil, err
	}
	if w.CompletedAt == nil {
		return nil, invalid("completedAt is required")
	}
	return ModuleCompletePayload{Module: module, CompletedAt: *w.CompletedAt}, nil
}

func decodeSnapshot(raw json.RawMessage) (Payload, error) {
	var w struct {
		Version          *int64              `json:"version"`
		SessionID        *string             `json:"sessionId"`
		VowThread        *json.RawMessage    `json:"vowThread"`
		Strokes          *[]model.Stroke     `json:"strokes"`
		MemoryItems      *[]model.MemoryItem `json:"memoryItems"`
		ModulesCompleted []model.ModuleID    `json:"modulesCompleted"`
		CompletedAt      *int64              `json:"completedAt"`
	}
	if err := decodeObject(raw, &w); err != nil {
		return nil, err
	}
	if w.Version == nil || w.SessionID == nil {
		return nil, invalid("version and sessionId are required")
	}
	if w.VowThread == nil || !isObject(*w.VowThread) {
		return nil, invalid("vowThread must be an object")
	}
	var thread model.VowThreadData
	if err := json.Unmarshal(*w.VowThread, &thread); err != nil {
		return nil, invalid("vowThread: %v", err)
	}
	if w.Strokes == nil || w.MemoryItems == nil {
		return nil, invalid("strokes and memoryItems are required")
	}
	return SnapshotPayload{
		Version:          *w.Version,
		SessionID:        *w.SessionID,
		VowThread:        thread.Clone(),
		Strokes:          *w.Strokes,
		MemoryItems:      *w.MemoryItems,
		ModulesCompleted: w.ModulesCompleted,
		CompletedAt:      w.CompletedAt,
	}, nil
}

func decodeModule(raw *string) (model.ModuleID, error) {
	if raw == nil || !model.ModuleID(*raw).Valid() {
		return "", invalid("module must be one of %v", model.Modules)
	}
	return model.ModuleID(*raw), nil
}

func decodeStringList(field string, raw json.RawMessage) ([]string, error) {
	var list []*string
	if isNull(raw) || json.Unmarshal(raw, &list) != nil {
		return nil, invalid("%s must be an array of strings", field)
	}
	out := make([]string, len(list))
	for i, s := range list {
		if s == nil {
			return nil, invalid("%s[%d] must be a string", field, i)
		}
		out[i] = *s
	}
	return out, nil
}

func decodeMemoryItems(field string, raw json.RawMessage) ([]model.MemoryItem, error) {
	var elems []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &elems) != nil {
		return nil, invalid("%s must be an array", field)
	}
	out := make([]model.MemoryItem, len(elems))
	for i, e := range elems {
		if !isObject(e) || json.Unmarshal(e, &out[i]) != nil {
			return nil, invalid("%s[%d] must be a memory item", field, i)
		}
	}
	return out, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if !isObject(raw) {
		return invalid("payload must be an object")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidPayload}, args...)...)
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// utf16Len counts string length the way a browser's String.length does.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// IsClientType reports whether clients may send this variant to the hub.
func IsClientType(t Type) bool {
	return t != TypeSnapshot && slices.Contains(Types, t)
}
