package executor

import (
	"context"

	"github.com/andrej220/httpfuzz/pkg/probe"
)

// Harness probes the target with one input. It bounds its own run time and
// returns nil when no result was produced.
type Harness interface {
	Probe(ctx context.Context, input []byte) *probe.Response
}

type HarnessFunc func(ctx context.Context, input []byte) *probe.Response

func (f HarnessFunc) Probe(ctx context.Context, input []byte) *probe.Response { return f(ctx, input) }

// ResponseStore receives the raw result of every run keyed by execution index.
// *respstore.Store[uint64, *probe.Response] satisfies it.
type ResponseStore interface {
	AddEntry(key uint64, value *probe.Response) error
}
