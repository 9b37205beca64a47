package assembly

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/reportgen/internal/batch"
	"github.com/phrazzld/reportgen/internal/domain"
)

// GeneralObservations is the parent title for leaves without a group.
const GeneralObservations = "General Observations"

// Assembler builds the section tree of a run.
type Assembler struct {
	parser *Parser
	logger *slog.Logger
}

// Assembly is the output of Assemble.
type Assembly struct {
	Tree          domain.SectionTree
	ParseFailures int
}

// New creates an assembler.
func New(logger *slog.Logger) (*Assembler, error) {
	parser, err := NewParser()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{parser: parser, logger: logger.With(slog.String("component", "assembler"))}, nil
}

// Leaves parses every outcome in dispatch order. Failed batches and
// unparseable output become one opaque ungrouped section each; nothing is
// dropped.
func (a *Assembler) Leaves(outcomes []batch.Outcome) ([]domain.Section, int) {
	var (
		leaves   []domain.Section
		failures int
	)
	for _, o := range outcomes {
		label := batchLabel(o.Batch, len(outcomes))
		if o.Failed() {
			leaves = append(leaves, domain.NewSection(label, o.Err.Marker()))
			continue
		}
		parsed, err := a.parser.Parse(o.Content, o.Batch.Group)
		if err != nil {
			failures++
			a.logger.Warn("keeping unparseable batch output as opaque section",
				slog.Int("batch", o.Batch.Index+1),
				slog.String("error", err.Error()))
			leaves = append(leaves, domain.NewSection(label, strings.TrimSpace(o.Content)))
			continue
		}
		leaves = append(leaves, parsed...)
	}
	return leaves, failures
}

func batchLabel(b batch.Batch, total int) string {
	if b.Group != "" {
		return fmt.Sprintf("Batch %d of %d (%s)", b.Index+1, total, b.Group)
	}
	return fmt.Sprintf("Batch %d of %d", b.Index+1, total)
}

// Assemble parses outcomes into leaves, groups them when requested and
// renumbers the result.
func (a *Assembler) Assemble(outcomes []batch.Outcome, grouping domain.Grouping, groupOrder []string) Assembly {
	leaves, failures := a.Leaves(outcomes)
	if grouping == domain.Grouped {
		leaves = Group(leaves, groupOrder)
	}
	return Assembly{
		Tree:          domain.NewSectionTree(leaves...),
		ParseFailures: failures,
	}
}

// Group nests leaves under one new parent per group label, keeping leaf
// order within each parent. Parents follow order, then first appearance;
// General Observations is last.
func Group(leaves []domain.Section, order []string) []domain.Section {
	byLabel := make(map[string][]domain.Section)
	var seen []string
	var general []domain.Section
	for _, leaf := range leaves {
		label := strings.TrimSpace(leaf.Group)
		if label == "" || label == GeneralObservations {
			general = append(general, leaf.Clone())
			continue
		}
		if _, ok := byLabel[label]; !ok {
			seen = append(seen, label)
		}
		byLabel[label] = append(byLabel[label], leaf.Clone())
	}

	parents := make([]domain.Section, 0, len(seen)+1)
	for _, label := range batch.OrderGroups(seen, order) {
		p := domain.NewSection(label, "")
		p.Group = label
		p.Children = byLabel[label]
		parents = append(parents, p)
	}
	if len(general) > 0 {
		p := domain.NewSection(GeneralObservations, "")
		p.Children = general
		parents = append(parents, p)
	}
	return parents
}

// Render formats sections as Markdown for the progress log.
func Render(sections []domain.Section) string {
	var b strings.Builder
	renderInto(&b, sections, 3)
	return strings.TrimSpace(b.String())
}

func renderInto(b *strings.Builder, sections []domain.Section, depth int) {
	for _, s := range sections {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Repeat("#", min(depth, 6)))
		b.WriteByte(' ')
		if s.Number != "" {
			b.WriteString(s.Number)
			b.WriteByte(' ')
		}
		b.WriteString(s.Title)
		if s.Body != "" {
			b.WriteString("\n\n")
			b.WriteString(s.Body)
		}
		renderInto(b, s.Children, depth+1)
	}
}

// RenderOutcome is a batch.Options.Render implementation: parsed sections
// as Markdown, or the raw text when the output does not parse.
func (a *Assembler) RenderOutcome(o batch.Outcome) string {
	sections, err := a.parser.Parse(o.Content, o.Batch.Group)
	if err != nil {
		return o.Content
	}
	return Render(sections)
}
