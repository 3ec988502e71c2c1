package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerb(t *testing.T) {
	tests := []struct {
		in      string
		want    Verb
		wantErr bool
	}{
		{in: "get", want: GET},
		{in: " PATCH ", want: PATCH},
		{in: "connect", want: CONNECT},
		{in: "FETCH", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVerb(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProbeGETSendsInputAsQuery(t *testing.T) {
	var gotQuery, gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "nope")
	}))
	defer ts.Close()

	h, err := NewHTTPHarness(HTTPConfig{URL: ts.URL, UserAgent: "httpfuzz-test"})
	require.NoError(t, err)

	resp := h.Probe(context.Background(), []byte("abc"))
	require.NotNil(t, resp)
	assert.Equal(t, "abc", gotQuery)
	assert.Equal(t, "httpfuzz-test", gotUA)
	assert.Equal(t, GET, resp.Method)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.ContentType)
	assert.Equal(t, "httpfuzz-test", resp.UserAgent)
	assert.Equal(t, "nope", string(resp.Body))
	assert.Nil(t, resp.RequestBody)
	assert.NotEmpty(t, resp.Host)
}

func TestProbePOSTSendsInputAsBody(t *testing.T) {
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h, err := NewHTTPHarness(HTTPConfig{
		URL:     ts.URL,
		Method:  POST,
		Headers: map[string]string{"Host": "fuzz.example"},
	})
	require.NoError(t, err)

	resp := h.Probe(context.Background(), []byte{0x00, 0xff})
	require.NotNil(t, resp)
	assert.Equal(t, []byte{0x00, 0xff}, gotBody)
	assert.Equal(t, []byte{0x00, 0xff}, resp.RequestBody)
	assert.Equal(t, "fuzz.example", resp.Host)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProbeDeadTargetReturnsNil(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	h, err := NewHTTPHarness(HTTPConfig{
		URL:   url,
		Retry: RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)
	assert.Nil(t, h.Probe(context.Background(), []byte("x")))
}

func TestProbeTimeoutReturnsNil(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	h, err := NewHTTPHarness(HTTPConfig{
		URL:     ts.URL,
		Timeout: 20 * time.Millisecond,
		Retry:   RetryConfig{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)
	assert.Nil(t, h.Probe(context.Background(), nil))
}

func TestProbeRetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// drop the connection on the first attempt
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
			return
		}
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	h, err := NewHTTPHarness(HTTPConfig{
		URL:    ts.URL,
		Method: PUT,
		Retry:  RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	resp := h.Probe(context.Background(), []byte("body"))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewHTTPHarnessRejectsRelativeURL(t *testing.T) {
	_, err := NewHTTPHarness(HTTPConfig{URL: "/just/a/path"})
	assert.Error(t, err)
}
