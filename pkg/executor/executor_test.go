package executor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/executor"
	"github.com/andrej220/httpfuzz/pkg/feedback"
	"github.com/andrej220/httpfuzz/pkg/observer"
	"github.com/andrej220/httpfuzz/pkg/probe"
	"github.com/andrej220/httpfuzz/pkg/respstore"
	"github.com/andrej220/httpfuzz/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusHarness(code int) executor.HarnessFunc {
	return func(_ context.Context, input []byte) *probe.Response {
		return &probe.Response{
			Method:      probe.POST,
			Host:        "target.local",
			UserAgent:   "ua",
			ContentType: "application/json",
			RequestBody: input,
			StatusCode:  code,
		}
	}
}

var nilHarness = executor.HarnessFunc(func(context.Context, []byte) *probe.Response { return nil })

func newStore() *respstore.Store[uint64, *probe.Response] {
	return respstore.New[uint64, *probe.Response]()
}

func TestRunRecordsResultAndFeedbackReadsIt(t *testing.T) {
	store := newStore()
	exec := executor.New(statusHarness(200), classify.NewStatusClassifier([]int{404}), store)
	st := state.New()

	outcome, err := exec.Run(context.Background(), st, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, classify.Normal, outcome)
	assert.Equal(t, uint64(1), st.Executions())

	rec, ok := st.Record(1)
	require.True(t, ok)
	assert.Equal(t, state.RunRecord{
		Method:       probe.POST,
		Body:         "payload",
		Host:         "target.local",
		UserAgent:    "ua",
		ContentType:  "application/json",
		ResponseCode: 200,
		Outcome:      classify.Normal,
	}, rec)

	interesting, err := feedback.NewCodeFeedback("feedback", 404, 200).IsInteresting(st)
	require.NoError(t, err)
	assert.True(t, interesting)

	interesting, err = feedback.NewCodeFeedback("feedback", 500).IsInteresting(st)
	require.NoError(t, err)
	assert.False(t, interesting)

	resp, err := store.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRunCodeOfInterestIsCrash(t *testing.T) {
	exec := executor.New(statusHarness(404), classify.NewStatusClassifier([]int{404}), newStore())
	st := state.New()

	outcome, err := exec.Run(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, classify.Crash, outcome)

	rec, _ := st.Record(st.Executions())
	assert.Equal(t, classify.Crash, rec.Outcome)
}

func TestRunWithoutResult(t *testing.T) {
	store := newStore()
	exec := executor.New(nilHarness, classify.NewStatusClassifier([]int{404}), store)
	st := state.New()

	outcome, err := exec.Run(context.Background(), st, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, classify.Normal, outcome)

	rec, ok := st.Record(1)
	require.True(t, ok)
	assert.Equal(t, state.RunRecord{Outcome: classify.Normal}, rec)

	// key present, value empty
	_, resp, err := store.RemoveEntry(1)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRunWithoutResultUsesClassifierPolicy(t *testing.T) {
	exec := executor.New(nilHarness,
		classify.NewStatusClassifier(nil, classify.WithMissingAs(classify.Timeout)), newStore())

	outcome, err := exec.Run(context.Background(), state.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, classify.Timeout, outcome)
}

func TestNRunsLeaveNEntries(t *testing.T) {
	const n = 25
	store := newStore()
	exec := executor.New(statusHarness(200), classify.NewStatusClassifier(nil), store)
	st := state.New()

	for i := 0; i < n; i++ {
		_, err := exec.Run(context.Background(), st, []byte{byte(i)})
		require.NoError(t, err)
	}
	assert.Equal(t, n, store.Len())
	assert.Equal(t, n, st.NumRecords())

	for i := uint64(1); i <= n; i++ {
		_, _, err := store.RemoveEntry(i)
		require.NoError(t, err)
		_, _, err = store.RemoveEntry(i)
		require.ErrorIs(t, err, respstore.ErrKeyNotPresent)
	}
}

func TestReusedIndexFailsInsteadOfOverwriting(t *testing.T) {
	store := newStore()
	st := state.New()

	_, err := executor.New(statusHarness(200), classify.NewStatusClassifier(nil), store).
		Run(context.Background(), st, nil)
	require.NoError(t, err)

	// a buggy driver rewinds the counter
	st.SetExecutions(0)
	_, err = executor.New(statusHarness(500), classify.NewStatusClassifier(nil), store).
		Run(context.Background(), st, nil)
	require.ErrorIs(t, err, respstore.ErrKeyAlreadyPresent)

	var runErr *executor.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, executor.StepStore, runErr.Step)
	assert.Equal(t, uint64(1), runErr.Index)

	resp, err := store.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	rec, _ := st.Record(1)
	assert.Equal(t, uint16(200), rec.ResponseCode)
}

type lockedStore struct{ calls int }

func (s *lockedStore) AddEntry(uint64, *probe.Response) error {
	s.calls++
	return respstore.ErrLockUnavailable
}

func TestUnavailableStoreLockIsStoreStepError(t *testing.T) {
	store := &lockedStore{}
	var postRan bool
	exec := executor.New(statusHarness(404), classify.NewStatusClassifier([]int{404}), store,
		observer.Funcs{ID: "after", Post: func(*state.State, []byte, classify.Outcome) error {
			postRan = true
			return nil
		}})
	st := state.New()

	outcome, err := exec.Run(context.Background(), st, []byte("x"))
	require.ErrorIs(t, err, respstore.ErrLockUnavailable)

	var runErr *executor.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, executor.StepStore, runErr.Step)
	assert.Equal(t, uint64(1), runErr.Index)
	assert.Equal(t, classify.Crash, outcome)

	assert.Equal(t, 1, store.calls)
	assert.Zero(t, st.NumRecords())
	assert.False(t, postRan)
}

func TestPoisonedStoreFailsRun(t *testing.T) {
	poisoned := respstore.New(
		respstore.WithMaxEntries[uint64, *probe.Response](1),
		respstore.WithEvictHook(func(uint64, *probe.Response) { panic("hook failed") }),
	)
	require.NoError(t, poisoned.AddEntry(100, nil))
	assert.Panics(t, func() { _ = poisoned.AddEntry(101, nil) })

	exec := executor.New(statusHarness(200), classify.NewStatusClassifier(nil), poisoned)
	_, err := exec.Run(context.Background(), state.New(), nil)
	require.ErrorIs(t, err, respstore.ErrLockUnavailable)

	var runErr *executor.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, executor.StepStore, runErr.Step)
}

func TestPreExecFailureAbortsBeforeHarness(t *testing.T) {
	boom := errors.New("boom")
	var probed bool
	h := executor.HarnessFunc(func(context.Context, []byte) *probe.Response {
		probed = true
		return nil
	})
	store := newStore()
	exec := executor.New(h, classify.NewStatusClassifier(nil), store,
		observer.Funcs{ID: "guard", Pre: func(*state.State, []byte) error { return boom }})
	st := state.New()

	_, err := exec.Run(context.Background(), st, nil)
	require.ErrorIs(t, err, boom)

	var runErr *executor.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, executor.StepPreExec, runErr.Step)

	assert.False(t, probed)
	assert.Equal(t, uint64(1), st.Executions())
	assert.Zero(t, store.Len())
	assert.Zero(t, st.NumRecords())
}

func TestPostExecFailureKeepsCommittedState(t *testing.T) {
	boom := errors.New("boom")
	store := newStore()
	var seen classify.Outcome = -1
	exec := executor.New(statusHarness(404), classify.NewStatusClassifier([]int{404}), store,
		observer.Funcs{ID: "sink", Post: func(st *state.State, _ []byte, o classify.Outcome) error {
			seen = o
			// the record is visible to post-exec hooks
			_, ok := st.Record(st.Executions())
			assert.True(t, ok)
			return boom
		}})
	st := state.New()

	outcome, err := exec.Run(context.Background(), st, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, classify.Crash, outcome)
	assert.Equal(t, classify.Crash, seen)

	var runErr *executor.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, executor.StepPostExec, runErr.Step)

	assert.Equal(t, 1, store.Len())
	_, ok := st.Record(1)
	assert.True(t, ok)
}

func TestFeedbackBeforeRunIsMissingRecord(t *testing.T) {
	st := state.New()
	_, err := feedback.NewCodeFeedback("feedback", 200).IsInteresting(st)
	assert.ErrorIs(t, err, feedback.ErrMissingRecord)

	// counter advanced by the driver but the run never completed
	st.IncExecutions()
	_, err = feedback.NewCodeFeedback("feedback", 200).IsInteresting(st)
	assert.ErrorIs(t, err, feedback.ErrMissingRecord)
}

func TestRunAgainstHTTPHarness(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	h, err := probe.NewHTTPHarness(probe.HTTPConfig{URL: ts.URL, UserAgent: "httpfuzz"})
	require.NoError(t, err)
	exec := executor.New(h, classify.NewStatusClassifier([]int{404}), newStore())
	st := state.New()

	outcome, err := exec.Run(context.Background(), st, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, classify.Crash, outcome)

	rec, ok := st.Record(1)
	require.True(t, ok)
	assert.Equal(t, probe.GET, rec.Method)
	assert.Equal(t, uint16(404), rec.ResponseCode)
	assert.Equal(t, "httpfuzz", rec.UserAgent)
	assert.Equal(t, "text/html", rec.ContentType)
}

func TestRecordForOutOfRangeStatus(t *testing.T) {
	rec := executor.RecordFor(&probe.Response{StatusCode: 70000}, classify.Normal)
	assert.Zero(t, rec.ResponseCode)
}
