package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLibrary(t *testing.T) {
	t.Parallel()

	lib, err := Default()
	require.NoError(t, err)

	for _, name := range []domain.ReportStyle{domain.ReportStyleBrief, domain.ReportStyleElaborate} {
		style, err := lib.Style(name)
		require.NoError(t, err)
		assert.NotEmpty(t, style.System)
		assert.Positive(t, style.MaxTokens)
		assert.Positive(t, style.SummaryMaxTokens)
	}

	_, err = lib.Style("haiku")
	assert.ErrorIs(t, err, ErrUnknownStyle)
}

func TestRenderBatch(t *testing.T) {
	t.Parallel()

	lib, err := Default()
	require.NoError(t, err)
	style, err := lib.Style(domain.ReportStyleBrief)
	require.NoError(t, err)

	images := ImagesData([]domain.Image{
		{ID: "a", Number: 3, Tag: domain.ImageTagDeficiency, Description: "torn membrane", Group: []string{"Roof"}},
		{ID: "b", Number: 4, Tag: domain.ImageTagOverview, Description: "north elevation"},
	})
	images[0].Knowledge = "Laps shall be 150 mm."

	out, err := style.RenderBatch(BatchData{
		Index:        2,
		Total:        3,
		Group:        "Roof",
		BulletPoints: []string{"Access limited to east side"},
		Images:       images,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "batch 2 of 3 (group: Roof)")
	assert.Contains(t, out, "- Access limited to east side")
	assert.Contains(t, out, "Image 3 [deficiency] (Roof): torn membrane")
	assert.Contains(t, out, "Laps shall be 150 mm.")
	assert.Contains(t, out, "Image 4 [overview]: north elevation")
	assert.Contains(t, out, `"sections"`)
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	lib, err := Default()
	require.NoError(t, err)
	style, err := lib.Style(domain.ReportStyleElaborate)
	require.NoError(t, err)

	out, err := style.RenderSummary(SummaryData{Content: "Roof: torn membrane."})
	require.NoError(t, err)
	assert.Contains(t, out, "Roof: torn membrane.")
	assert.NotContains(t, out, "Inspector notes")
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	_, err := Parse(nil)
	assert.Error(t, err)

	_, err = Parse([]byte("styles: ["))
	assert.Error(t, err)

	_, err = Parse([]byte("styles:\n  brief:\n    batch: x\n    summary: y\n"))
	assert.ErrorIs(t, err, ErrUnknownStyle, "elaborate is missing")

	_, err = Parse([]byte("styles:\n  brief:\n    batch: '{{.Nope'\n    summary: y\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	lib, err := Load("")
	require.NoError(t, err)
	assert.NotNil(t, lib)

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	custom := "styles:\n" +
		"  brief:\n    temperature: 0.1\n    batch: 'B{{.Index}}'\n    summary: 'S{{.Content}}'\n" +
		"  elaborate:\n    batch: 'E{{.Index}}'\n    summary: 'S{{.Content}}'\n    max_tokens: 100\n"
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o600))

	lib, err = Load(path)
	require.NoError(t, err)
	style, err := lib.Style(domain.ReportStyleBrief)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, float64(style.Temperature), 1e-6)
	out, err := style.RenderBatch(BatchData{Index: 7})
	require.NoError(t, err)
	assert.Equal(t, "B7", out)

	elaborate, err := lib.Style(domain.ReportStyleElaborate)
	require.NoError(t, err)
	assert.Equal(t, 100, elaborate.SummaryMaxTokens)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
