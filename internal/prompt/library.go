// Package prompt holds the per-style prompt templates used for batch and
// summary calls.
package prompt

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/phrazzld/reportgen/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// ErrUnknownStyle is returned when the library has no templates for a style.
var ErrUnknownStyle = errors.New("no prompt templates for report style")

type styleDef struct {
	System           string  `yaml:"system"`
	Batch            string  `yaml:"batch"`
	Summary          string  `yaml:"summary"`
	Temperature      float32 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	SummaryMaxTokens int     `yaml:"summary_max_tokens"`
}

type libraryDef struct {
	Styles map[string]styleDef `yaml:"styles"`
}

// Style is the compiled template set of one report style.
type Style struct {
	Name             domain.ReportStyle
	System           string
	Temperature      float32
	MaxTokens        int
	SummaryMaxTokens int

	batch   *template.Template
	summary *template.Template
}

// Library maps report styles onto compiled templates. It is immutable after
// construction.
type Library struct {
	styles map[domain.ReportStyle]*Style
}

// ImageData is the template view of one image.
type ImageData struct {
	Number      int
	Tag         string
	Group       string
	Description string
	URL         string
	// Knowledge is the gate context for the image, if any.
	Knowledge string
}

// BatchData feeds a batch template.
type BatchData struct {
	Index        int
	Total        int
	Group        string
	BulletPoints []string
	Images       []ImageData
}

// SummaryData feeds a summary template.
type SummaryData struct {
	BulletPoints []string
	Content      string
}

// Default returns the embedded library.
func Default() (*Library, error) {
	return Parse(defaultPrompts)
}

// Load reads the library from path, falling back to the embedded one when
// path is empty.
func Load(path string) (*Library, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	lib, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("prompt: %s: %w", path, err)
	}
	return lib, nil
}

// Parse decodes and compiles a YAML prompt library. Every known report
// style must be present.
func Parse(data []byte) (*Library, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("prompt: library is empty")
	}
	var def libraryDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("prompt: decode library: %w", err)
	}

	lib := &Library{styles: make(map[domain.ReportStyle]*Style, len(def.Styles))}
	for name, sd := range def.Styles {
		style, err := compile(domain.ReportStyle(name), sd)
		if err != nil {
			return nil, err
		}
		lib.styles[style.Name] = style
	}
	for _, required := range []domain.ReportStyle{domain.ReportStyleBrief, domain.ReportStyleElaborate} {
		if _, ok := lib.styles[required]; !ok {
			return nil, fmt.Errorf("prompt: %w %q", ErrUnknownStyle, required)
		}
	}
	return lib, nil
}

func compile(name domain.ReportStyle, sd styleDef) (*Style, error) {
	if strings.TrimSpace(sd.Batch) == "" || strings.TrimSpace(sd.Summary) == "" {
		return nil, fmt.Errorf("prompt: style %q needs batch and summary templates", name)
	}
	batch, err := template.New(string(name) + "/batch").Option("missingkey=error").Parse(sd.Batch)
	if err != nil {
		return nil, fmt.Errorf("prompt: style %q batch template: %w", name, err)
	}
	summary, err := template.New(string(name) + "/summary").Option("missingkey=error").Parse(sd.Summary)
	if err != nil {
		return nil, fmt.Errorf("prompt: style %q summary template: %w", name, err)
	}
	if sd.MaxTokens <= 0 {
		sd.MaxTokens = 4096
	}
	if sd.SummaryMaxTokens <= 0 {
		sd.SummaryMaxTokens = sd.MaxTokens
	}
	return &Style{
		Name:             name,
		System:           strings.TrimSpace(sd.System),
		Temperature:      sd.Temperature,
		MaxTokens:        sd.MaxTokens,
		SummaryMaxTokens: sd.SummaryMaxTokens,
		batch:            batch,
		summary:          summary,
	}, nil
}

// Style returns the templates for a report style.
func (l *Library) Style(style domain.ReportStyle) (*Style, error) {
	s, ok := l.styles[style]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStyle, style)
	}
	return s, nil
}

// RenderBatch renders the batch prompt.
func (s *Style) RenderBatch(data BatchData) (string, error) {
	var buf bytes.Buffer
	if err := s.batch.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", s.batch.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderSummary renders the summary prompt.
func (s *Style) RenderSummary(data SummaryData) (string, error) {
	var buf bytes.Buffer
	if err := s.summary.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", s.summary.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ImagesData converts domain images into template views.
func ImagesData(images []domain.Image) []ImageData {
	out := make([]ImageData, len(images))
	for i, img := range images {
		out[i] = ImageData{
			Number:      img.Number,
			Tag:         string(img.Tag),
			Group:       img.GroupLabel(),
			Description: img.Description,
			URL:         img.URL,
		}
	}
	return out
}
