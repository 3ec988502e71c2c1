package executor

import (
	"context"
	"fmt"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/observer"
	"github.com/andrej220/httpfuzz/pkg/probe"
	"github.com/andrej220/httpfuzz/pkg/state"
)

type Step string

const (
	StepPreExec  Step = "pre-exec"
	StepStore    Step = "store"
	StepPostExec Step = "post-exec"
)

// RunError tells which step of a run failed.
type RunError struct {
	Index uint64
	Step  Step
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %d: %s: %v", e.Index, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Executor performs one harness invocation per Run and records its result
// before returning. It never retries and never logs.
//
// Run is not safe for concurrent use with the same State.
type Executor struct {
	harness    Harness
	classifier classify.Classifier
	store      ResponseStore
	observers  observer.Observers
}

func New(h Harness, c classify.Classifier, store ResponseStore, observers ...observer.Observer) *Executor {
	return &Executor{
		harness:    h,
		classifier: c,
		store:      store,
		observers:  observers,
	}
}

// Run executes input once. The execution index is taken before the harness runs,
// so it is stable even when the harness yields nothing. When post-exec hooks fail
// the store entry and the run record stay committed.
func (e *Executor) Run(ctx context.Context, st *state.State, input []byte) (classify.Outcome, error) {
	idx := st.IncExecutions()

	if err := e.observers.PreExecAll(st, input); err != nil {
		return classify.Normal, &RunError{Index: idx, Step: StepPreExec, Err: err}
	}

	resp := e.harness.Probe(ctx, input)
	outcome := e.classifier.Classify(resp)

	if err := e.store.AddEntry(idx, resp); err != nil {
		return outcome, &RunError{Index: idx, Step: StepStore, Err: err}
	}
	st.PutRecord(idx, RecordFor(resp, outcome))

	if err := e.observers.PostExecAll(st, input, outcome); err != nil {
		return outcome, &RunError{Index: idx, Step: StepPostExec, Err: err}
	}
	return outcome, nil
}

// RecordFor extracts the run record of resp. A nil resp leaves every request and
// response field at its zero value.
func RecordFor(resp *probe.Response, outcome classify.Outcome) state.RunRecord {
	rec := state.RunRecord{Outcome: outcome}
	if resp == nil {
		return rec
	}
	rec.Method = resp.Method
	rec.Body = string(resp.RequestBody)
	rec.Host = resp.Host
	rec.UserAgent = resp.UserAgent
	rec.ContentType = resp.ContentType
	if resp.StatusCode > 0 && resp.StatusCode <= 0xffff {
		rec.ResponseCode = uint16(resp.StatusCode)
	}
	return rec
}
