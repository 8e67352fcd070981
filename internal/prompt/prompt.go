// Package prompt holds the versioned prompt templates sent to the language
// models. Templates are embedded YAML rendered with text/template.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template names.
const (
	Intent        = "intent"
	Chat          = "chat"
	FirstTurn     = "first_turn"
	RAGQuery      = "rag_query"
	Planner       = "planner"
	Optimizer     = "optimizer"
	Encouragement = "encouragement"
)

var required = []string{Intent, Chat, FirstTurn, RAGQuery, Planner, Optimizer, Encouragement}

//go:embed templates.yaml
var defaultYAML []byte

// Vars are the values a template may reference.
type Vars struct {
	BookName       string
	Chapter        string
	Message        string
	ReadingSpeed   string
	Streak         int
	DaysSince      int
	QuizAccuracy   int
	CompletionRate string
	Emotion        string
}

// Set is a parsed, versioned collection of templates.
type Set struct {
	Version   int
	templates map[string]*template.Template
}

type fileFormat struct {
	Version   int               `yaml:"version"`
	Templates map[string]string `yaml:"templates"`
}

// Default returns the embedded template set. It panics if the embedded
// file is malformed, which is caught by tests.
func Default() *Set {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return s
}

// Parse reads a YAML template file. Every known template must be present.
func Parse(data []byte) (*Set, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("prompt: decode yaml: %w", err)
	}
	if f.Version <= 0 {
		return nil, fmt.Errorf("prompt: missing version")
	}

	s := &Set{Version: f.Version, templates: make(map[string]*template.Template, len(f.Templates))}
	for _, name := range required {
		text, ok := f.Templates[name]
		if !ok {
			return nil, fmt.Errorf("prompt: template %q missing", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("prompt: parse %q: %w", name, err)
		}
		s.templates[name] = tmpl
	}
	return s, nil
}

// Render executes the named template with vars. The result has trailing
// whitespace trimmed.
func (s *Set) Render(name string, vars Vars) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt: unknown template %q", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("prompt: render %q: %w", name, err)
	}
	return strings.TrimRight(b.String(), " \n"), nil
}

// MustRender is Render for templates whose variables are statically known.
func (s *Set) MustRender(name string, vars Vars) string {
	out, err := s.Render(name, vars)
	if err != nil {
		panic(err)
	}
	return out
}
