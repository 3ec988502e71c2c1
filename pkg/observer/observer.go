package observer

import (
	"fmt"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/state"
)

// Observer is notified around every harness invocation.
type Observer interface {
	Name() string
	PreExec(st *state.State, input []byte) error
	PostExec(st *state.State, input []byte, outcome classify.Outcome) error
}

// Observers runs hooks in registration order and stops at the first failure.
type Observers []Observer

func (obs Observers) PreExecAll(st *state.State, input []byte) error {
	for _, o := range obs {
		if err := o.PreExec(st, input); err != nil {
			return fmt.Errorf("observer %s: pre-exec: %w", o.Name(), err)
		}
	}
	return nil
}

func (obs Observers) PostExecAll(st *state.State, input []byte, outcome classify.Outcome) error {
	for _, o := range obs {
		if err := o.PostExec(st, input, outcome); err != nil {
			return fmt.Errorf("observer %s: post-exec: %w", o.Name(), err)
		}
	}
	return nil
}

// Funcs builds an Observer from optional hook functions.
type Funcs struct {
	ID   string
	Pre  func(st *state.State, input []byte) error
	Post func(st *state.State, input []byte, outcome classify.Outcome) error
}

func (f Funcs) Name() string { return f.ID }

func (f Funcs) PreExec(st *state.State, input []byte) error {
	if f.Pre == nil {
		return nil
	}
	return f.Pre(st, input)
}

func (f Funcs) PostExec(st *state.State, input []byte, outcome classify.Outcome) error {
	if f.Post == nil {
		return nil
	}
	return f.Post(st, input, outcome)
}
