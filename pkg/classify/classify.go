// Package classify maps a probe's raw result to a coarse Outcome.
package classify

import (
	"fmt"

	"github.com/andrej220/httpfuzz/pkg/probe"
)

// Outcome is the coarse verdict of one run.
type Outcome int

const (
	Normal Outcome = iota
	Crash
	Timeout
)

var outcomeNames = map[Outcome]string{
	Normal:  "normal",
	Crash:   "crash",
	Timeout: "timeout",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	s, ok := outcomeNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown outcome %d", int(o))
	}
	return []byte(s), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	p, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = p
	return nil
}

func ParseOutcome(s string) (Outcome, error) {
	for o, name := range outcomeNames {
		if name == s {
			return o, nil
		}
	}
	return Normal, fmt.Errorf("unknown outcome %q", s)
}

// Classifier must be pure: it is called without locks from any goroutine.
type Classifier interface {
	Classify(resp *probe.Response) Outcome
}

type ClassifierFunc func(resp *probe.Response) Outcome

func (f ClassifierFunc) Classify(resp *probe.Response) Outcome { return f(resp) }

// StatusClassifier reports Crash when the response status is one of the codes of
// interest and Normal otherwise.
type StatusClassifier struct {
	codes   map[int]struct{}
	missing Outcome
}

type StatusOption func(*StatusClassifier)

// WithMissingAs sets the outcome for a probe that produced no response.
func WithMissingAs(o Outcome) StatusOption {
	return func(c *StatusClassifier) { c.missing = o }
}

func NewStatusClassifier(codes []int, opts ...StatusOption) *StatusClassifier {
	c := &StatusClassifier{
		codes:   make(map[int]struct{}, len(codes)),
		missing: Normal,
	}
	for _, code := range codes {
		c.codes[code] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *StatusClassifier) Classify(resp *probe.Response) Outcome {
	if resp == nil {
		return c.missing
	}
	if _, ok := c.codes[resp.StatusCode]; ok {
		return Crash
	}
	return Normal
}
