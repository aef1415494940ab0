// Package rewrite points absolute upstream URLs in JSON bodies back at the gateway.
package rewrite

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when the body does not parse as JSON.
var ErrInvalidJSON = errors.New("rewrite: invalid json")

// Rewriter replaces string values that start with the upstream origin.
type Rewriter struct {
	prefixes []string
}

// New creates a Rewriter for the given upstream hosts, e.g. "api.discogs.com".
// Both http and https forms of each origin are matched.
func New(upstreamHosts ...string) *Rewriter {
	r := &Rewriter{}
	seen := make(map[string]bool, len(upstreamHosts))
	for _, h := range upstreamHosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		r.prefixes = append(r.prefixes, "https://"+h+"/", "http://"+h+"/")
	}
	return r
}

// Target builds the rewrite base from an explicit public URL or the inbound host.
func Target(publicBaseURL, host string) string {
	if publicBaseURL != "" {
		return strings.TrimRight(publicBaseURL, "/") + "/api"
	}
	return "https://" + host + "/api"
}

// Rewrite walks body and replaces every matching string value at any depth,
// in objects and arrays alike. Keys, numbers and untouched strings keep their
// original bytes. When nothing matches, body itself is returned.
func (r *Rewriter) Rewrite(body []byte, target string) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}
	w := &walker{prefixes: r.prefixes, target: strings.TrimRight(target, "/")}
	w.value(gjson.ParseBytes(body))
	if w.err != nil {
		return nil, w.err
	}
	if !w.changed {
		return body, nil
	}
	return w.buf.Bytes(), nil
}

type walker struct {
	prefixes []string
	target   string
	buf      bytes.Buffer
	changed  bool
	err      error
}

func (w *walker) value(v gjson.Result) {
	switch {
	case v.IsObject():
		w.buf.WriteByte('{')
		first := true
		v.ForEach(func(key, val gjson.Result) bool {
			if !first {
				w.buf.WriteByte(',')
			}
			first = false
			w.buf.WriteString(key.Raw)
			w.buf.WriteByte(':')
			w.value(val)
			return w.err == nil
		})
		w.buf.WriteByte('}')
	case v.IsArray():
		w.buf.WriteByte('[')
		first := true
		v.ForEach(func(_, val gjson.Result) bool {
			if !first {
				w.buf.WriteByte(',')
			}
			first = false
			w.value(val)
			return w.err == nil
		})
		w.buf.WriteByte(']')
	case v.Type == gjson.String:
		w.string(v)
	default:
		w.buf.WriteString(v.Raw)
	}
}

func (w *walker) string(v gjson.Result) {
	for _, p := range w.prefixes {
		if !strings.HasPrefix(v.Str, p) {
			continue
		}
		enc := json.NewEncoder(&w.buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(w.target + "/" + strings.TrimPrefix(v.Str, p)); err != nil {
			w.err = err
			return
		}
		// Encode appends a newline.
		w.buf.Truncate(w.buf.Len() - 1)
		w.changed = true
		return
	}
	w.buf.WriteString(v.Raw)
}
