package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/andrej220/httpfuzz/pkg/executor"
	"github.com/andrej220/httpfuzz/pkg/feedback"
	"github.com/andrej220/httpfuzz/pkg/lg"
	"github.com/andrej220/httpfuzz/pkg/persistence"
	"github.com/andrej220/httpfuzz/pkg/probe"
	"github.com/andrej220/httpfuzz/pkg/respstore"
	"github.com/andrej220/httpfuzz/pkg/state"
	"github.com/andrej220/httpfuzz/pkg/workerpool"
	"golang.org/x/sync/errgroup"
)

// inputSource yields seeded random inputs of 1 to maxLen bytes.
type inputSource struct {
	rng    *rand.Rand
	maxLen int
}

func newInputSource(seed uint64, maxLen int) *inputSource {
	if maxLen <= 0 {
		maxLen = 1
	}
	return &inputSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), maxLen: maxLen}
}

func (s *inputSource) Next() []byte {
	b := make([]byte, 1+s.rng.IntN(s.maxLen))
	for i := range b {
		b[i] = byte(s.rng.UintN(256))
	}
	return b
}

type summary struct {
	Executions  uint64
	Interesting int
	Objectives  int
	Reaped      int
	Retained    int
	FailedSaves int64
	PeakSavers  int32
	Elapsed     time.Duration
}

func (s summary) fields() []lg.Field {
	return []lg.Field{
		lg.Uint64("executions", s.Executions),
		lg.Int("interesting", s.Interesting),
		lg.Int("objectives", s.Objectives),
		lg.Int("reaped", s.Reaped),
		lg.Int("retained", s.Retained),
		lg.Int("failed_saves", int(s.FailedSaves)),
		lg.Int32("peak_savers", s.PeakSavers),
		lg.Duration("elapsed", s.Elapsed),
	}
}

// driver runs a session: initial inputs first, then the iterations. Every run is
// judged by feedback and objective, findings are saved through the pool and the
// evaluated store entries are removed by a reaper goroutine.
type driver struct {
	exec       *executor.Executor
	store      *respstore.Store[uint64, *probe.Response]
	feedback   feedback.Feedback
	objective  feedback.Feedback
	sink       persistence.Sink
	pool       *workerpool.Pool[persistence.Finding]
	inputs     *inputSource
	initial    int
	iterations int
	logger     lg.Logger
}

// run may be called once; it stops the pool before returning.
func (d *driver) run(ctx context.Context, st *state.State) (summary, error) {
	start := time.Now()
	var sum summary

	evaluated := make(chan uint64, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(evaluated)
		return d.loop(gctx, st, evaluated, &sum)
	})
	g.Go(func() error {
		for idx := range evaluated {
			if _, _, err := d.store.RemoveEntry(idx); err != nil {
				// evicted or never stored
				if errors.Is(err, respstore.ErrKeyNotPresent) {
					continue
				}
				return fmt.Errorf("reap run %d: %w", idx, err)
			}
			sum.Reaped++
		}
		return nil
	})
	err := g.Wait()
	d.pool.Stop()

	sum.Executions = st.Executions()
	sum.Retained = d.store.Len()
	sum.FailedSaves = d.pool.Failed()
	sum.Elapsed = time.Since(start)
	return sum, err
}

func (d *driver) loop(ctx context.Context, st *state.State, evaluated chan<- uint64, sum *summary) error {
	for i := 0; i < d.initial+d.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		phase := "iteration"
		if i < d.initial {
			phase = "initial"
		}

		input := d.inputs.Next()
		outcome, err := d.exec.Run(ctx, st, input)
		if err != nil {
			return err
		}
		idx := st.Executions()

		interesting, err := d.feedback.IsInteresting(st)
		if err != nil {
			return fmt.Errorf("%s: %w", d.feedback.Name(), err)
		}
		objective, err := d.objective.IsInteresting(st)
		if err != nil {
			return fmt.Errorf("%s: %w", d.objective.Name(), err)
		}

		switch {
		case objective:
			sum.Objectives++
			d.save(ctx, st, idx, persistence.KindObjective, input, sum)
		case interesting:
			sum.Interesting++
			d.save(ctx, st, idx, persistence.KindCorpus, input, sum)
		}
		d.logger.Debug("input evaluated",
			lg.String("phase", phase),
			lg.Uint64("run", idx),
			lg.String("outcome", outcome.String()),
			lg.Bool("interesting", interesting),
			lg.Bool("objective", objective))

		select {
		case evaluated <- idx:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *driver) save(ctx context.Context, st *state.State, idx uint64, kind persistence.Kind, input []byte, sum *summary) {
	rec, _ := st.Record(idx)
	f := persistence.Finding{
		SessionID: st.SessionID(),
		Index:     idx,
		Kind:      kind,
		Input:     input,
		Record:    rec,
		FoundAt:   time.Now().UTC(),
	}
	// findings of an interrupted session are still saved
	ok := d.pool.Submit(workerpool.Job[persistence.Finding]{
		Payload: f,
		Fn:      d.sink.Save,
		Ctx:     context.WithoutCancel(ctx),
	})
	if !ok {
		d.logger.Warn("finding dropped", lg.String("id", f.ID()))
		return
	}
	if n := d.pool.ActiveWorkers(); n > sum.PeakSavers {
		sum.PeakSavers = n
	}
}
