package cache

import (
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
)

var (
	// ErrNotCacheable is returned when a request can never be stored (non-GET, non-http scheme).
	ErrNotCacheable = errors.New("cache: request not cacheable")
)

// Entry is one stored request -> response pair.
type Entry struct {
	// Key is the request identity, see RequestKey.
	Key string
	// Vary holds the request header values named by the response's Vary header.
	Vary     map[string]string
	Response *Response
}

// RequestKey returns the identity of req: its URL with the fragment dropped.
// Method is not part of the key because only GET requests are ever stored.
func RequestKey(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// CheckCacheable rejects requests that can never be stored: non-GET or non-http(s).
func CheckCacheable(req *http.Request) error {
	if req.Method != "" && req.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrNotCacheable, req.Method)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrNotCacheable, req.URL.Scheme)
	}
	return nil
}

// Matchable reports whether req can hit a cache entry at all.
func Matchable(req *http.Request) bool {
	return req.Method == "" || req.Method == http.MethodGet
}

// varyFields returns the canonical header names listed in the Vary header.
func varyFields(h http.Header) []string {
	var fields []string
	for _, v := range h.Values("Vary") {
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if f == "*" {
				fields = append(fields, f)
				continue
			}
			fields = append(fields, textproto.CanonicalMIMEHeaderKey(f))
		}
	}
	return fields
}

// NewEntry builds the entry stored for req -> resp.
func NewEntry(req *http.Request, resp *Response) *Entry {
	e := &Entry{Key: RequestKey(req), Response: resp}
	for _, f := range varyFields(resp.Header) {
		if e.Vary == nil {
			e.Vary = make(map[string]string)
		}
		if f == "*" {
			e.Vary[f] = ""
			continue
		}
		e.Vary[f] = req.Header.Get(f)
	}
	return e
}

// Matches reports whether req hits this entry, honouring Vary unless
// o.IgnoreVary is set.
func (e *Entry) Matches(req *http.Request, o MatchOptions) bool {
	if !Matchable(req) || RequestKey(req) != e.Key {
		return false
	}
	if o.IgnoreVary {
		return true
	}
	for f, v := range e.Vary {
		if f == "*" {
			return false
		}
		if req.Header.Get(f) != v {
			return false
		}
	}
	return true
}
