package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// OpenOptions identify the document a client wants to observe. Two option
// sets with the same Key address the same session.
type OpenOptions struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params,omitempty"`
}

// Validate checks that the options name a parseable URL.
func (o OpenOptions) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("protocol: open options without url")
	}
	if _, err := url.Parse(o.URL); err != nil {
		return fmt.Errorf("protocol: invalid url %q: %w", o.URL, err)
	}
	return nil
}

// Key returns the canonical identity of the options. The URL is normalized
// (lower-case scheme and host, cleaned path, sorted query) and the record
// is rendered as JSON with sorted keys.
func (o OpenOptions) Key() string {
	canonical := struct {
		Params map[string]string `json:"params,omitempty"`
		URL    string            `json:"url"`
	}{o.Params, NormalizeURL(o.URL)}
	// Maps marshal with sorted keys, so the output is deterministic.
	data, err := json.Marshal(canonical)
	if err != nil {
		return o.URL
	}
	return string(data)
}

// NormalizeURL returns a canonical form of raw. Unparseable input is
// returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if strings.HasPrefix(u.Path, "/") && !strings.HasPrefix(cleaned, "/") {
			cleaned = "/" + cleaned
		}
		u.Path = cleaned
		u.RawPath = ""
	}
	u.RawQuery = u.Query().Encode()
	u.Fragment = ""
	return u.String()
}

// Query encodes the options as URL query parameters: url=<URL> plus one
// p.<name>=<value> per parameter.
func (o OpenOptions) Query() url.Values {
	q := url.Values{}
	q.Set("url", o.URL)
	for k, v := range o.Params {
		q.Set("p."+k, v)
	}
	return q
}

// OptionsFromQuery is the inverse of Query.
func OptionsFromQuery(q url.Values) OpenOptions {
	o := OpenOptions{URL: q.Get("url")}
	for k, vs := range q {
		name, ok := strings.CutPrefix(k, "p.")
		if !ok || len(vs) == 0 {
			continue
		}
		if o.Params == nil {
			o.Params = make(map[string]string)
		}
		o.Params[name] = vs[0]
	}
	return o
}
