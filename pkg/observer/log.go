package observer

import (
	"time"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/lg"
	"github.com/andrej220/httpfuzz/pkg/state"
)

// LogObserver writes one debug line per run and a warning for every non-normal outcome.
type LogObserver struct {
	logger  lg.Logger
	started time.Time
}

func NewLogObserver(logger lg.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) Name() string { return "log" }

func (l *LogObserver) PreExec(st *state.State, input []byte) error {
	l.started = time.Now()
	return nil
}

func (l *LogObserver) PostExec(st *state.State, input []byte, outcome classify.Outcome) error {
	idx := st.Executions()
	fields := []lg.Field{
		lg.Uint64("run", idx),
		lg.Int("input_len", len(input)),
		lg.String("outcome", outcome.String()),
		lg.Duration("elapsed", time.Since(l.started)),
	}
	if rec, ok := st.Record(idx); ok {
		fields = append(fields, lg.Int("status", int(rec.ResponseCode)))
	}
	if outcome != classify.Normal {
		l.logger.Warn("run finished", fields...)
		return nil
	}
	l.logger.Debug("run finished", fields...)
	return nil
}
