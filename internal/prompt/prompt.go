// Package prompt renders the one-shot playbook prompt from an alert, its
// classification and the network topology.
package prompt

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/netdef"
	"github.com/linnemanlabs/aegis/internal/rules"
)

// TemplateName is the prompt template file looked up in the templates dir.
const TemplateName = "one-shot.prompt"

// EmbeddedSource is what Source reports for the built-in template.
const EmbeddedSource = "embedded"

//go:embed one-shot.prompt
var defaultTemplate string

var funcs = template.FuncMap{
	"toJSON": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"toPrettyJSON": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		return string(b), err
	},
}

// Builder renders prompts from a parsed template. Safe for concurrent use.
type Builder struct {
	tmpl   *template.Template
	source string
}

// New parses dir/one-shot.prompt. When dir is empty or holds no template the
// built-in template is used.
func New(dir string) (*Builder, error) {
	if dir == "" {
		return Default(), nil
	}

	path := filepath.Join(dir, TemplateName)
	data, err := os.ReadFile(path) //nolint:gosec // path is built from operator config
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}

	b, err := parse(path, string(data))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Default returns a Builder for the built-in template.
func Default() *Builder {
	b, err := parse(EmbeddedSource, defaultTemplate)
	if err != nil {
		panic(err) // embedded template is covered by tests
	}
	return b
}

func parse(source, text string) (*Builder, error) {
	tmpl, err := template.New(TemplateName).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", source, err)
	}
	return &Builder{tmpl: tmpl, source: source}, nil
}

// Source reports where the template was loaded from.
func (b *Builder) Source() string { return b.source }

// Data assembles the template context.
func Data(raw alert.Raw, c rules.Classification, def *netdef.Definition) map[string]any {
	data := map[string]any{
		"alert_raw_data": map[string]any(raw),
		"alert_type":     c.Type,
		"alert_trigger":  string(c.Trigger),
		"networkgraph":   nil,
		"networkroutes":  nil,
	}
	if def != nil {
		data["networkgraph"] = def.NetworkGraph
		data["networkroutes"] = def.NetworkRoutes
	}
	return data
}

// Build renders the prompt.
func (b *Builder) Build(raw alert.Raw, c rules.Classification, def *netdef.Definition) (string, error) {
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, Data(raw, c, def)); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}
