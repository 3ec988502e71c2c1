package probe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

type RetryConfig struct {
	MaxRetries      uint64        `yaml:"maxRetries" json:"maxRetries"`
	InitialInterval time.Duration `yaml:"initialInterval" json:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval" json:"maxInterval"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"maxRequests" json:"maxRequests"`
	Interval            time.Duration `yaml:"interval" json:"interval"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures" json:"consecutiveFailures"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         5,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// ResilienceConfig couples the retry policy with the breaker guarding the target.
type ResilienceConfig struct {
	Retry          RetryConfig
	BreakerSetting gobreaker.Settings
	CircuitBreaker *gobreaker.CircuitBreaker
}

func NewResilienceConfig(name string, retry RetryConfig, br BreakerConfig) *ResilienceConfig {
	cbs := gobreaker.Settings{
		Name:        name,
		MaxRequests: br.MaxRequests,
		Interval:    br.Interval,
		Timeout:     br.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > br.ConsecutiveFailures
		},
	}
	return &ResilienceConfig{
		Retry:          retry,
		BreakerSetting: cbs,
		CircuitBreaker: gobreaker.NewCircuitBreaker(cbs),
	}
}

// backOff builds a fresh policy per probe; ExponentialBackOff is stateful.
func (r *ResilienceConfig) backOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.Retry.InitialInterval,
		MaxInterval:         r.Retry.MaxInterval,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, r.Retry.MaxRetries)
}

// ResilientClient sends requests through the breaker and retries transport failures.
type ResilientClient struct {
	HTTPClient *http.Client
	ResConf    *ResilienceConfig
}

func NewResilientClient(timeout time.Duration, conf *ResilienceConfig) *ResilientClient {
	return &ResilientClient{
		HTTPClient: &http.Client{Timeout: timeout},
		ResConf:    conf,
	}
}

// Do executes the request built by newReq. newReq is called once per attempt so the
// body can be replayed.
func (c *ResilientClient) Do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response

	operation := func() error {
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := c.ResConf.CircuitBreaker.Execute(func() (any, error) {
			return c.HTTPClient.Do(req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = res.(*http.Response)
		return nil
	}

	b := backoff.WithContext(c.ResConf.backOff(), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return resp, nil
}
