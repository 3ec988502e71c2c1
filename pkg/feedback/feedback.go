// Package feedback decides whether the latest run is worth keeping, based on the
// run record the executor wrote for it.
package feedback

import (
	"errors"
	"fmt"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/state"
)

// ErrMissingRecord means the feedback was consulted before the executor recorded
// the current run.
var ErrMissingRecord = errors.New("no run record for current execution")

type Feedback interface {
	Name() string
	IsInteresting(st *state.State) (bool, error)
}

func currentRecord(st *state.State) (state.RunRecord, error) {
	idx := st.Executions()
	rec, ok := st.Record(idx)
	if !ok {
		return state.RunRecord{}, fmt.Errorf("run %d: %w", idx, ErrMissingRecord)
	}
	return rec, nil
}

// CodeFeedback is interesting when the response code is one of the codes of interest.
type CodeFeedback struct {
	name  string
	codes map[uint16]struct{}
}

func NewCodeFeedback(name string, codes ...uint16) *CodeFeedback {
	f := &CodeFeedback{name: name, codes: make(map[uint16]struct{}, len(codes))}
	for _, c := range codes {
		f.codes[c] = struct{}{}
	}
	return f
}

func (f *CodeFeedback) Name() string { return f.name }

func (f *CodeFeedback) IsInteresting(st *state.State) (bool, error) {
	rec, err := currentRecord(st)
	if err != nil {
		return false, err
	}
	_, ok := f.codes[rec.ResponseCode]
	return ok, nil
}

// OutcomeFeedback is interesting when the run ended with one of the given outcomes.
// Drivers use it as the objective that marks crashing inputs.
type OutcomeFeedback struct {
	name     string
	outcomes map[classify.Outcome]struct{}
}

func NewOutcomeFeedback(name string, outcomes ...classify.Outcome) *OutcomeFeedback {
	f := &OutcomeFeedback{name: name, outcomes: make(map[classify.Outcome]struct{}, len(outcomes))}
	for _, o := range outcomes {
		f.outcomes[o] = struct{}{}
	}
	return f
}

func (f *OutcomeFeedback) Name() string { return f.name }

func (f *OutcomeFeedback) IsInteresting(st *state.State) (bool, error) {
	rec, err := currentRecord(st)
	if err != nil {
		return false, err
	}
	_, ok := f.outcomes[rec.Outcome]
	return ok, nil
}
