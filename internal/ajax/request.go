package ajax

import (
	"net/url"
	"path"
	"strings"
)

// Request carries the caller's parameters into a handler.
type Request struct {
	Function   string
	Method     string
	RequestID  string
	RemoteAddr string
	Params     url.Values
}

// Param returns the first value of name.
func (r *Request) Param(name string) string {
	if r == nil || r.Params == nil {
		return ""
	}
	return r.Params.Get(name)
}

// ParamMap flattens Params to their first values.
func (r *Request) ParamMap() map[string]string {
	out := make(map[string]string)
	if r == nil {
		return out
	}
	for k, v := range r.Params {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Includes collects the external resources a handler depends on, in
// registration order and without duplicates.
type Includes struct {
	css []string
	js  []string
}

// NewIncludes returns an empty set.
func NewIncludes() *Includes {
	return &Includes{}
}

// AddCSS registers a stylesheet URI.
func (i *Includes) AddCSS(uri string) *Includes {
	i.css = addUnique(i.css, uri)
	return i
}

// AddJS registers a script URI.
func (i *Includes) AddJS(uri string) *Includes {
	i.js = addUnique(i.js, uri)
	return i
}

func (i *Includes) CSS() []string { return append([]string(nil), i.css...) }

func (i *Includes) JS() []string { return append([]string(nil), i.js...) }

func addUnique(list []string, uri string) []string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return list
	}
	for _, existing := range list {
		if existing == uri {
			return list
		}
	}
	return append(list, uri)
}

// URLConverter maps resource URIs to URLs the client can load.
type URLConverter interface {
	Convert(uri string) string
}

// IdentityConverter returns URIs unchanged.
type IdentityConverter struct{}

func (IdentityConverter) Convert(uri string) string { return uri }

// StreamConverter serves relative URIs from the static stream prefix. Absolute
// URLs and protocol-relative URLs are kept as they are.
type StreamConverter struct {
	Prefix string
}

func (c StreamConverter) Convert(uri string) string {
	if uri == "" || c.Prefix == "" {
		return uri
	}
	if strings.HasPrefix(uri, "//") {
		return uri
	}
	if u, err := url.Parse(uri); err == nil && u.IsAbs() {
		return uri
	}
	prefix := "/" + strings.Trim(c.Prefix, "/")
	if strings.HasPrefix(uri, prefix+"/") {
		return uri
	}
	return path.Join(prefix, strings.TrimPrefix(uri, "/"))
}
