package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(id, title string) Section {
	return Section{ID: id, Title: title, Body: title + " body"}
}

func sampleTree() SectionTree {
	roof := leaf("roof", "Roof")
	roof.Children = []Section{leaf("gutters", "Gutters"), leaf("flashing", "Flashing")}
	site := leaf("site", "Site")
	site.Children = []Section{leaf("drainage", "Drainage")}
	return NewSectionTree(leaf("summary", "Summary"), roof, site)
}

func numbers(t SectionTree) map[string]string {
	out := map[string]string{}
	var walk func([]Section)
	walk = func(sections []Section) {
		for _, s := range sections {
			out[s.ID] = s.Number
			walk(s.Children)
		}
	}
	walk(t.Sections)
	return out
}

func TestRenumbered_DepthFirstDotted(t *testing.T) {
	t.Parallel()

	tree := sampleTree()

	assert.Equal(t, map[string]string{
		"summary":  "1",
		"roof":     "2",
		"gutters":  "2.1",
		"flashing": "2.2",
		"site":     "3",
		"drainage": "3.1",
	}, numbers(tree))
	assert.Equal(t, 6, tree.Len())
}

func TestRenumbered_Idempotent(t *testing.T) {
	t.Parallel()

	tree := sampleTree()
	first := tree.Renumbered()
	for i := 0; i < 5; i++ {
		again := first.Renumbered()
		assert.Equal(t, numbers(first), numbers(again))
		assert.Equal(t, first, again)
	}
}

func TestRenumbered_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	tree := SectionTree{Sections: []Section{leaf("a", "A")}}
	_ = tree.Renumbered()

	assert.Empty(t, tree.Sections[0].Number)
}

func TestSectionTree_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	tree := sampleTree()
	tree.Sections[1].Children[0].Images = []ImageRef{{Number: 3, Group: "North"}}

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	parsed, err := ParseSectionTree(data)
	require.NoError(t, err)
	assert.Equal(t, tree, parsed)
	assert.Equal(t, numbers(tree), numbers(parsed))
	require.Len(t, parsed.Sections[1].Children, 2)
	assert.Equal(t, "gutters", parsed.Sections[1].Children[0].ID)
	assert.Equal(t, "flashing", parsed.Sections[1].Children[1].ID)
}

func TestSectionTree_EmptyMarshalsArray(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(SectionTree{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sections":[]}`, string(data))

	parsed, err := ParseSectionTree([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, parsed.Sections)
}

func TestParseSectionTree_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := ParseSectionTree([]byte(`{"sections":[{"id":"a"},{"id":"b","children":[{"id":"a"}]}]}`))
	assert.ErrorIs(t, err, ErrDuplicateSectionID)

	_, err = ParseSectionTree([]byte(`{"sections":`))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestSectionTree_Insert(t *testing.T) {
	t.Parallel()

	tree := sampleTree()

	out, err := tree.Insert("roof", 1, leaf("vents", "Vents"))
	require.NoError(t, err)
	assert.Equal(t, "2.2", numbers(out)["vents"])
	assert.Equal(t, "2.3", numbers(out)["flashing"])
	assert.Equal(t, 6, tree.Len(), "receiver is unchanged")

	out, err = tree.Insert("", 100, leaf("appendix", "Appendix"))
	require.NoError(t, err)
	assert.Equal(t, "4", numbers(out)["appendix"])

	_, err = tree.Insert("missing", 0, leaf("x", "X"))
	assert.ErrorIs(t, err, ErrSectionNotFound)

	_, err = tree.Insert("", 0, leaf("gutters", "dup"))
	assert.ErrorIs(t, err, ErrDuplicateSectionID)

	_, err = tree.Insert("", 0, Section{Title: "no id"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestSectionTree_Delete(t *testing.T) {
	t.Parallel()

	tree := sampleTree()

	out, err := tree.Delete("roof")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())
	assert.Equal(t, "2", numbers(out)["site"])
	assert.Equal(t, "2.1", numbers(out)["drainage"])
	_, found := out.Find("gutters")
	assert.False(t, found)

	_, err = tree.Delete("missing")
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestSectionTree_Move(t *testing.T) {
	t.Parallel()

	tree := sampleTree()

	out, err := tree.Move("drainage", "roof", 0)
	require.NoError(t, err)
	assert.Equal(t, "2.1", numbers(out)["drainage"])
	assert.Equal(t, "2.2", numbers(out)["gutters"])
	assert.Equal(t, tree.Len(), out.Len())

	site, ok := out.Find("site")
	require.True(t, ok)
	assert.Empty(t, site.Children)

	out, err = tree.Move("gutters", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "1", numbers(out)["gutters"])
	assert.Equal(t, "3.1", numbers(out)["flashing"])
}

func TestSectionTree_MoveRejectsCycles(t *testing.T) {
	t.Parallel()

	tree := sampleTree()

	_, err := tree.Move("roof", "roof", 0)
	assert.ErrorIs(t, err, ErrInvalidMove)

	_, err = tree.Move("roof", "gutters", 0)
	assert.ErrorIs(t, err, ErrInvalidMove)

	_, err = tree.Move("roof", "missing", 0)
	assert.ErrorIs(t, err, ErrSectionNotFound)

	_, err = tree.Move("missing", "", 0)
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestSectionTree_FindReturnsCopy(t *testing.T) {
	t.Parallel()

	tree := sampleTree()
	roof, ok := tree.Find("roof")
	require.True(t, ok)

	roof.Children[0].Title = "changed"

	again, _ := tree.Find("gutters")
	assert.Equal(t, "Gutters", again.Title)
}
