package client

import (
	"slices"
	"sync"
	"time"

	"github.com/the-vow/backend/internal/model"
	"github.com/the-vow/backend/internal/protocol"
	"github.com/the-vow/backend/internal/vow"
)

// Sender is the part of Agent that VowState needs to publish local changes.
type Sender interface {
	Send(msg protocol.Message) error
}

// VowState is a device-local copy of the session's vow thread, kept current by
// feeding it every inbound message through Apply.
type VowState struct {
	mu          sync.RWMutex
	data        model.VowThreadData
	modules     []model.ModuleID
	completedAt *int64
	version     int64
}

// NewVowState returns an empty local vow thread.
func NewVowState() *VowState {
	return &VowState{
		data:    model.EmptyVowThreadData(),
		modules: []model.ModuleID{},
	}
}

// Apply folds one inbound message into the local copy. It has the signature of
// an Agent subscriber.
func (s *VowState) Apply(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := msg.Payload.(type) {
	case protocol.SnapshotPayload:
		s.data = p.VowThread.Clone()
		s.version = p.Version
		if p.ModulesCompleted != nil {
			s.modules = append([]model.ModuleID{}, p.ModulesCompleted...)
		}
		if p.CompletedAt != nil {
			at := *p.CompletedAt
			s.completedAt = &at
		}
	case protocol.VowContributionPayload:
		s.data = vow.Merge(s.data, p.Data)
	case protocol.ModuleCompletePayload:
		s.addModuleLocked(p.Module, int64(p.CompletedAt))
	}
}

func (s *VowState) addModuleLocked(m model.ModuleID, at int64) {
	if slices.Contains(s.modules, m) {
		return
	}
	s.modules = append(s.modules, m)
	if s.completedAt == nil && len(s.modules) >= vow.RequiredModules {
		s.completedAt = &at
	}
}

// Contribute sends a contribution and applies it locally without waiting for the echo.
func (s *VowState) Contribute(sender Sender, module model.ModuleID, c model.VowContribution) error {
	if err := sender.Send(protocol.New(protocol.VowContributionPayload{Module: module, Data: c})); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = vow.Merge(s.data, c)
	s.mu.Unlock()
	return nil
}

// CompleteModule announces a finished module and records it locally.
func (s *VowState) CompleteModule(sender Sender, module model.ModuleID, at time.Time) error {
	ms := at.UnixMilli()
	if err := sender.Send(protocol.New(protocol.ModuleCompletePayload{Module: module, CompletedAt: float64(ms)})); err != nil {
		return err
	}
	s.mu.Lock()
	s.addModuleLocked(module, ms)
	s.mu.Unlock()
	return nil
}

// Data returns a copy of the local vow thread.
func (s *VowState) Data() model.VowThreadData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

// ModulesCompleted returns the modules seen as complete, in arrival order.
func (s *VowState) ModulesCompleted() []model.ModuleID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ModuleID{}, s.modules...)
}

// CompletedAt returns the completion time in epoch milliseconds, if the thread is complete.
func (s *VowState) CompletedAt() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.completedAt == nil {
		return nil
	}
	at := *s.completedAt
	return &at
}

// Version returns the realtime version of the last applied snapshot.
func (s *VowState) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
