package probe

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Verb is an HTTP request method.
type Verb string

const (
	GET     Verb = http.MethodGet
	POST    Verb = http.MethodPost
	DELETE  Verb = http.MethodDelete
	HEAD    Verb = http.MethodHead
	OPTIONS Verb = http.MethodOptions
	TRACE   Verb = http.MethodTrace
	PUT     Verb = http.MethodPut
	PATCH   Verb = http.MethodPatch
	CONNECT Verb = http.MethodConnect
)

var verbs = []Verb{GET, POST, DELETE, HEAD, OPTIONS, TRACE, PUT, PATCH, CONNECT}

// ParseVerb accepts a method name in any case.
func ParseVerb(s string) (Verb, error) {
	up := Verb(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range verbs {
		if v == up {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown http verb %q", s)
}

// HasBody reports whether requests with this verb carry the fuzz input as body.
func (v Verb) HasBody() bool {
	switch v {
	case POST, PUT, PATCH, DELETE:
		return true
	}
	return false
}

// Response is the raw result of one probe: what was sent and what came back.
// A nil *Response means the probe produced nothing.
type Response struct {
	Method      Verb
	URL         string
	Host        string
	UserAgent   string
	RequestBody []byte

	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Duration    time.Duration
}
