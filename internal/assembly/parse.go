// Package assembly turns batch outputs into the report's section tree.
package assembly

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed batch_output.schema.json
var batchOutputSchema []byte

// ErrParseFailure is returned when batch output is not a valid section list.
var ErrParseFailure = errors.New("batch output could not be parsed")

type rawImage struct {
	Number int    `json:"number"`
	Group  string `json:"group"`
}

type rawSection struct {
	Title  string     `json:"title"`
	Body   string     `json:"body"`
	Images []rawImage `json:"images"`
}

type rawOutput struct {
	Sections []rawSection `json:"sections"`
}

// Parser validates batch output against the section schema.
type Parser struct {
	schema *jsonschema.Schema
}

// NewParser compiles the embedded batch output schema.
func NewParser() (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("batch_output.schema.json", bytes.NewReader(batchOutputSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("batch_output.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Parser{schema: schema}, nil
}

// Parse converts one batch's raw output into leaf sections. Leaves take the
// group of their first referenced image, falling back to batchGroup.
func (p *Parser) Parse(raw, batchGroup string) ([]domain.Section, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return nil, fmt.Errorf("%w: no JSON document found", ErrParseFailure)
	}

	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	// Models sometimes return the bare section array.
	if arr, ok := v.([]any); ok {
		v = map[string]any{"sections": arr}
	}
	if err := p.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	normalized, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	var out rawOutput
	if err := json.Unmarshal(normalized, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	leaves := make([]domain.Section, 0, len(out.Sections))
	for _, rs := range out.Sections {
		s := domain.NewSection(strings.TrimSpace(rs.Title), strings.TrimSpace(rs.Body))
		s.Group = batchGroup
		for _, img := range rs.Images {
			group := strings.TrimSpace(img.Group)
			if group == "" {
				group = batchGroup
			}
			s.Images = append(s.Images, domain.ImageRef{Number: img.Number, Group: group})
		}
		if len(s.Images) > 0 && s.Images[0].Group != "" {
			s.Group = s.Images[0].Group
		}
		leaves = append(leaves, s)
	}
	return leaves, nil
}

// extractJSON strips Markdown code fences and surrounding prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}
