package generator

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts renders the messages sent to the code generation service.
type Prompts struct {
	Setup    string `yaml:"setup"`
	Generate string `yaml:"generate"`
	Repair   string `yaml:"repair"`

	generate *template.Template
	repair   *template.Template
}

// LoadPrompts parses a prompt catalog. Nil data loads the built-in catalog.
func LoadPrompts(data []byte) (*Prompts, error) {
	if data == nil {
		data = defaultPrompts
	}
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	if strings.TrimSpace(p.Setup) == "" || p.Generate == "" || p.Repair == "" {
		return nil, fmt.Errorf("prompts: setup, generate and repair are required")
	}
	var err error
	if p.generate, err = template.New("generate").Parse(p.Generate); err != nil {
		return nil, fmt.Errorf("parse generate prompt: %w", err)
	}
	if p.repair, err = template.New("repair").Parse(p.Repair); err != nil {
		return nil, fmt.Errorf("parse repair prompt: %w", err)
	}
	return &p, nil
}

// GenerateMessage asks for a first rule from a chunk sample.
func (p *Prompts) GenerateMessage(chunks []string) (string, error) {
	return render(p.generate, map[string]any{"Chunks": strings.Join(chunks, "\n")})
}

// RepairMessage feeds back a failed rule with its error and output.
func (p *Prompts) RepairMessage(rule string, failure error, names []string, chunks []string) (string, error) {
	errText := "none"
	if failure != nil {
		errText = failure.Error()
	}
	return render(p.repair, map[string]any{
		"Rule":   strings.TrimSpace(rule),
		"Error":  errText,
		"Names":  fmt.Sprintf("%q", names),
		"Chunks": strings.Join(chunks, "\n"),
	})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
