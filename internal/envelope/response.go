package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response builds an envelope on the server side. External resources are kept
// in insertion order without duplicates.
type Response struct {
	success      bool
	errorMessage string
	value        interface{}
	externalCSS  []string
	externalJS   []string
	inlineCSS    strings.Builder
	inlineJS     strings.Builder
}

// Success creates a successful response carrying value (may be nil).
func Success(value interface{}) *Response {
	return &Response{success: true, value: value}
}

// Failure creates a failed response. The message may be empty.
func Failure(message string) *Response {
	return &Response{errorMessage: message}
}

// IsSuccess reports whether the response is a success.
func (r *Response) IsSuccess() bool { return r.success }

// IsFailure reports whether the response is a failure.
func (r *Response) IsFailure() bool { return !r.success }

// ErrorMessage returns the failure message.
func (r *Response) ErrorMessage() string { return r.errorMessage }

// AddExternalJS appends a script URL unless already present.
func (r *Response) AddExternalJS(url string) *Response {
	r.externalJS = appendUnique(r.externalJS, url)
	return r
}

// AddExternalCSS appends a stylesheet URL unless already present.
func (r *Response) AddExternalCSS(url string) *Response {
	r.externalCSS = appendUnique(r.externalCSS, url)
	return r
}

// AddInlineJS appends a chunk of inline script.
func (r *Response) AddInlineJS(js string) *Response {
	appendChunk(&r.inlineJS, js)
	return r
}

// AddInlineCSS appends a chunk of inline CSS.
func (r *Response) AddInlineCSS(css string) *Response {
	appendChunk(&r.inlineCSS, css)
	return r
}

// MergeIncludes places request-scoped includes ahead of the resources the
// response already carries. It is a no-op for failures.
func (r *Response) MergeIncludes(css, js []string) *Response {
	if !r.success {
		return r
	}
	r.externalCSS = prependUnique(r.externalCSS, css)
	r.externalJS = prependUnique(r.externalJS, js)
	return r
}

// ExternalJS returns a copy of the script URLs.
func (r *Response) ExternalJS() []string { return append([]string(nil), r.externalJS...) }

// ExternalCSS returns a copy of the stylesheet URLs.
func (r *Response) ExternalCSS() []string { return append([]string(nil), r.externalCSS...) }

// Envelope renders the response into its wire model.
func (r *Response) Envelope() (*Envelope, error) {
	if !r.success {
		return &Envelope{Success: false, ErrorMessage: r.errorMessage}, nil
	}
	env := &Envelope{
		Success:     true,
		ExternalJS:  r.ExternalJS(),
		ExternalCSS: r.ExternalCSS(),
		InlineCSS:   r.inlineCSS.String(),
		InlineJS:    r.inlineJS.String(),
	}
	if r.value != nil {
		raw, err := json.Marshal(r.value)
		if err != nil {
			return nil, fmt.Errorf("marshal response value: %w", err)
		}
		env.Value = raw
	}
	return env, nil
}

// MarshalJSON serializes the response as an envelope.
func (r *Response) MarshalJSON() ([]byte, error) {
	env, err := r.Envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// String is used in log lines.
func (r *Response) String() string {
	if !r.success {
		return fmt.Sprintf("failure(%q)", r.errorMessage)
	}
	return fmt.Sprintf("success(css=%d js=%d inlineCSS=%t inlineJS=%t)",
		len(r.externalCSS), len(r.externalJS), r.inlineCSS.Len() > 0, r.inlineJS.Len() > 0)
}

func appendUnique(list []string, item string) []string {
	if item == "" {
		return list
	}
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func prependUnique(list, head []string) []string {
	var merged []string
	for _, item := range head {
		merged = appendUnique(merged, item)
	}
	for _, item := range list {
		merged = appendUnique(merged, item)
	}
	return merged
}

func appendChunk(b *strings.Builder, chunk string) {
	if strings.TrimSpace(chunk) == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(chunk)
}
