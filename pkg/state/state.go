// Package state holds the per-session driver state the executor and feedbacks share:
// the execution counter, the run record registry and free-form metadata.
//
// State is not synchronized. One goroutine drives runs; callers that share a State
// across goroutines must add their own locking.
package state

import (
	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/probe"
	"github.com/google/uuid"
)

// RunRecord is the immutable per-run snapshot written by the executor.
// Optional string fields are empty when the probe produced no response.
type RunRecord struct {
	Method       probe.Verb       `json:"method" bson:"method"`
	Body         string           `json:"body" bson:"body"`
	Host         string           `json:"host,omitempty" bson:"host,omitempty"`
	UserAgent    string           `json:"userAgent,omitempty" bson:"userAgent,omitempty"`
	ContentType  string           `json:"contentType,omitempty" bson:"contentType,omitempty"`
	ResponseCode uint16           `json:"responseCode" bson:"responseCode"`
	Outcome      classify.Outcome `json:"outcome" bson:"outcome"`
}

// MetaTarget is the metadata key under which drivers store the probed target.
const MetaTarget = "target"

type State struct {
	sessionID  uuid.UUID
	executions uint64
	records    map[uint64]RunRecord
	metadata   map[string]any
}

func New() *State {
	return &State{
		sessionID: uuid.New(),
		records:   make(map[uint64]RunRecord),
		metadata:  make(map[string]any),
	}
}

func (s *State) SessionID() uuid.UUID { return s.sessionID }

// Executions returns the index of the most recent run.
func (s *State) Executions() uint64 { return s.executions }

// IncExecutions advances the counter and returns the new execution index.
func (s *State) IncExecutions() uint64 {
	s.executions++
	return s.executions
}

// SetExecutions rewinds or advances the counter, e.g. when resuming a session.
// Rewinding makes later runs reuse indices already present in the response store.
func (s *State) SetExecutions(n uint64) { s.executions = n }

// PutRecord stores rec under idx, replacing any previous record.
func (s *State) PutRecord(idx uint64, rec RunRecord) { s.records[idx] = rec }

func (s *State) Record(idx uint64) (RunRecord, bool) {
	rec, ok := s.records[idx]
	return rec, ok
}

func (s *State) NumRecords() int { return len(s.records) }

func (s *State) SetMetadata(key string, v any) { s.metadata[key] = v }

func (s *State) Metadata(key string) (any, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

// MetadataAs returns the metadata stored under key if it has type T.
func MetadataAs[T any](s *State, key string) (T, bool) {
	var zero T
	v, ok := s.metadata[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
