package ajax

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/oremus-labs/ol-ajax-bridge/internal/envelope"
	"sigs.k8s.io/yaml"
)

// Manifest declares static AJAX functions.
type Manifest struct {
	Functions []StaticFunction `json:"functions"`
}

// StaticFunction is a function whose response is fixed by configuration.
type StaticFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	// HTML answers with {"html": ...}; embedded scripts and styles become
	// envelope resources. Ignored when Value is set.
	HTML string `json:"html,omitempty"`
	// EchoParams answers with the request parameters when no value is set.
	EchoParams  bool     `json:"echoParams,omitempty"`
	ExternalJS  []string `json:"externalJs,omitempty"`
	ExternalCSS []string `json:"externalCss,omitempty"`
	InlineCSS   string   `json:"inlineCss,omitempty"`
	InlineJS    string   `json:"inlineJs,omitempty"`
	// Error turns the function into one that always fails with this message.
	Error string `json:"error,omitempty"`
}

// LoadManifest reads a YAML or JSON manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	seen := make(map[string]struct{}, len(m.Functions))
	for i, fn := range m.Functions {
		if !ValidFunctionName(fn.Name) {
			return nil, fmt.Errorf("functions[%d]: %w: %q", i, ErrInvalidFunctionName, fn.Name)
		}
		if _, dup := seen[fn.Name]; dup {
			return nil, fmt.Errorf("functions[%d]: %w: %s", i, ErrDuplicateFunction, fn.Name)
		}
		seen[fn.Name] = struct{}{}
	}
	return &m, nil
}

// Register adds every manifest function to inv.
func (m *Manifest) Register(inv *Invoker) error {
	for i := range m.Functions {
		fn := m.Functions[i]
		if err := inv.RegisterHandler(fn.Name, &StaticHandler{Function: fn}); err != nil {
			return err
		}
	}
	return nil
}

// StaticHandler serves a StaticFunction.
type StaticHandler struct {
	Function StaticFunction
}

func (h *StaticHandler) RegisterExternalResources(includes *Includes) {
	if h.Function.Error != "" {
		return
	}
	for _, css := range h.Function.ExternalCSS {
		includes.AddCSS(css)
	}
	for _, js := range h.Function.ExternalJS {
		includes.AddJS(js)
	}
}

func (h *StaticHandler) HandleRequest(_ context.Context, req *Request) (*envelope.Response, error) {
	fn := h.Function
	if fn.Error != "" {
		return envelope.Failure(fn.Error), nil
	}
	var resp *envelope.Response
	switch {
	case len(fn.Value) > 0:
		resp = envelope.Success(fn.Value)
	case fn.HTML != "":
		var err error
		if resp, err = envelope.SuccessHTML(fn.HTML); err != nil {
			return nil, err
		}
	case fn.EchoParams:
		resp = envelope.Success(req.ParamMap())
	default:
		resp = envelope.Success(nil)
	}
	if fn.InlineCSS != "" {
		resp.AddInlineCSS(fn.InlineCSS)
	}
	if fn.InlineJS != "" {
		resp.AddInlineJS(fn.InlineJS)
	}
	return resp, nil
}
