package kafkautil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/state"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

func newTestPublisher(w *mockWriter) *RecordPublisher {
	return &RecordPublisher{writer: w, topic: "runs", writeTimeout: defaultWriteTimeout}
}

func TestPublishesCurrentRecord(t *testing.T) {
	w := &mockWriter{}
	p := newTestPublisher(w)

	st := state.New()
	st.SetMetadata(state.MetaTarget, "http://target.local")
	idx := st.IncExecutions()
	st.PutRecord(idx, state.RunRecord{ResponseCode: 404, Outcome: classify.Crash})

	require.NoError(t, p.PreExec(st, []byte("in")))
	require.NoError(t, p.PostExec(st, []byte("in"), classify.Crash))
	require.Len(t, w.msgs, 1)

	var msg RunMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, st.SessionID(), msg.SessionID)
	assert.Equal(t, uint64(1), msg.Index)
	assert.Equal(t, "http://target.local", msg.Target)
	assert.Equal(t, []byte("in"), msg.Input)
	assert.Equal(t, classify.Crash, msg.Record.Outcome)
	assert.Equal(t, st.SessionID().String()+"/1", string(w.msgs[0].Key))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Equal(t, "kafka:runs", p.Name())
}

func TestPublishWithoutRecordFails(t *testing.T) {
	w := &mockWriter{}
	st := state.New()
	st.IncExecutions()

	err := newTestPublisher(w).PostExec(st, nil, classify.Normal)
	assert.Error(t, err)
	assert.Empty(t, w.msgs)
}

func TestPublishWriterError(t *testing.T) {
	w := &mockWriter{err: errors.New("broker down")}
	st := state.New()
	idx := st.IncExecutions()
	st.PutRecord(idx, state.RunRecord{})

	err := newTestPublisher(w).PostExec(st, nil, classify.Normal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
