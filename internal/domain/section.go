package domain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ImageRef points from a section to one of the job's input images.
type ImageRef struct {
	Number int    `json:"number"`
	Group  string `json:"group,omitempty"`
}

// Section is a node of the report's document tree. A section is owned by at
// most one parent through the Children slice; there are no back references.
// Number is derived by Renumbered and is never authoritative.
type Section struct {
	ID       string     `json:"id"`
	Number   string     `json:"number"`
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	Images   []ImageRef `json:"images,omitempty"`
	Group    string     `json:"group,omitempty"`
	Children []Section  `json:"children,omitempty"`
}

// NewSection creates a leaf section with a fresh id.
func NewSection(title, body string) Section {
	return Section{
		ID:    uuid.NewString(),
		Title: title,
		Body:  body,
	}
}

// Clone returns a deep copy of s that shares no slices with it.
func (s Section) Clone() Section {
	out := s
	if s.Images != nil {
		out.Images = append([]ImageRef(nil), s.Images...)
	}
	out.Children = cloneSections(s.Children)
	return out
}

func cloneSections(in []Section) []Section {
	if in == nil {
		return nil
	}
	out := make([]Section, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// SectionTree is the root of a report's document, serialized as
// {"sections": [...]}.
type SectionTree struct {
	Sections []Section `json:"sections"`
}

// NewSectionTree builds a numbered tree from copies of the given sections.
func NewSectionTree(sections ...Section) SectionTree {
	return SectionTree{Sections: cloneSections(sections)}.Renumbered()
}

// MarshalJSON always emits a sections array, even for an empty tree.
func (t SectionTree) MarshalJSON() ([]byte, error) {
	type plain SectionTree
	if t.Sections == nil {
		t.Sections = []Section{}
	}
	return json.Marshal(plain(t))
}

// ParseSectionTree decodes a serialized tree and rejects duplicate ids.
func ParseSectionTree(data []byte) (SectionTree, error) {
	type plain SectionTree
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return SectionTree{}, fmt.Errorf("%w: section tree: %v", ErrInvalidFormat, err)
	}
	t := SectionTree(p)
	if t.Sections == nil {
		t.Sections = []Section{}
	}
	if id, dup := firstDuplicateID(t.Sections, map[string]struct{}{}); dup {
		return SectionTree{}, fmt.Errorf("%w: %s", ErrDuplicateSectionID, id)
	}
	return t, nil
}

// Clone returns a deep copy of the tree.
func (t SectionTree) Clone() SectionTree {
	return SectionTree{Sections: cloneSections(t.Sections)}
}

// Renumbered returns a copy of the tree with dotted-decimal numbers assigned
// depth first; the counter restarts at 1 on every sibling level.
func (t SectionTree) Renumbered() SectionTree {
	out := t.Clone()
	renumber(out.Sections, "")
	return out
}

func renumber(sections []Section, prefix string) {
	for i := range sections {
		n := strconv.Itoa(i + 1)
		if prefix != "" {
			n = prefix + "." + n
		}
		sections[i].Number = n
		renumber(sections[i].Children, n)
	}
}

// Len returns the number of sections in the tree at every depth.
func (t SectionTree) Len() int {
	return countSections(t.Sections)
}

func countSections(sections []Section) int {
	n := len(sections)
	for _, s := range sections {
		n += countSections(s.Children)
	}
	return n
}

// Find returns a copy of the section with the given id.
func (t SectionTree) Find(id string) (Section, bool) {
	s := findSection(t.Sections, id)
	if s == nil {
		return Section{}, false
	}
	return s.Clone(), true
}

func findSection(sections []Section, id string) *Section {
	for i := range sections {
		if sections[i].ID == id {
			return &sections[i]
		}
		if s := findSection(sections[i].Children, id); s != nil {
			return s
		}
	}
	return nil
}

// Insert returns a new tree with s placed at index among the children of
// parentID (the root level when parentID is empty). The index is clamped to
// the valid range.
func (t SectionTree) Insert(parentID string, index int, s Section) (SectionTree, error) {
	if s.ID == "" {
		return SectionTree{}, fmt.Errorf("%w: section id is empty", ErrInvalidID)
	}
	seen := map[string]struct{}{}
	collectIDs(t.Sections, seen)
	if id, dup := firstDuplicateID([]Section{s}, seen); dup {
		return SectionTree{}, fmt.Errorf("%w: %s", ErrDuplicateSectionID, id)
	}
	return t.insert(parentID, index, s)
}

func (t SectionTree) insert(parentID string, index int, s Section) (SectionTree, error) {
	out := t.Clone()
	if parentID == "" {
		out.Sections = insertAt(out.Sections, index, s.Clone())
		return out.Renumbered(), nil
	}
	parent := findSection(out.Sections, parentID)
	if parent == nil {
		return SectionTree{}, fmt.Errorf("%w: %s", ErrSectionNotFound, parentID)
	}
	parent.Children = insertAt(parent.Children, index, s.Clone())
	return out.Renumbered(), nil
}

// Delete returns a new tree without the section id and its descendants.
func (t SectionTree) Delete(id string) (SectionTree, error) {
	out, ok := removeSection(t.Clone().Sections, id)
	if !ok {
		return SectionTree{}, fmt.Errorf("%w: %s", ErrSectionNotFound, id)
	}
	return SectionTree{Sections: out}.Renumbered(), nil
}

// Move returns a new tree with section id detached from its current parent
// and inserted at index under newParentID (root when empty). Moving a section
// below itself is rejected.
func (t SectionTree) Move(id, newParentID string, index int) (SectionTree, error) {
	src := findSection(t.Sections, id)
	if src == nil {
		return SectionTree{}, fmt.Errorf("%w: %s", ErrSectionNotFound, id)
	}
	if newParentID != "" {
		if newParentID == id || findSection(src.Children, newParentID) != nil {
			return SectionTree{}, fmt.Errorf("%w: %s under %s", ErrInvalidMove, id, newParentID)
		}
		if findSection(t.Sections, newParentID) == nil {
			return SectionTree{}, fmt.Errorf("%w: %s", ErrSectionNotFound, newParentID)
		}
	}
	moved := src.Clone()
	rest, err := t.Delete(id)
	if err != nil {
		return SectionTree{}, err
	}
	return rest.insert(newParentID, index, moved)
}

func insertAt(sections []Section, index int, s Section) []Section {
	if index < 0 {
		index = 0
	}
	if index > len(sections) {
		index = len(sections)
	}
	out := make([]Section, 0, len(sections)+1)
	out = append(out, sections[:index]...)
	out = append(out, s)
	return append(out, sections[index:]...)
}

func removeSection(sections []Section, id string) ([]Section, bool) {
	for i := range sections {
		if sections[i].ID == id {
			out := make([]Section, 0, len(sections)-1)
			out = append(out, sections[:i]...)
			return append(out, sections[i+1:]...), true
		}
		if children, ok := removeSection(sections[i].Children, id); ok {
			sections[i].Children = children
			return sections, true
		}
	}
	return sections, false
}

func collectIDs(sections []Section, seen map[string]struct{}) {
	for _, s := range sections {
		seen[s.ID] = struct{}{}
		collectIDs(s.Children, seen)
	}
}

func firstDuplicateID(sections []Section, seen map[string]struct{}) (string, bool) {
	for _, s := range sections {
		if _, ok := seen[s.ID]; ok {
			return s.ID, true
		}
		seen[s.ID] = struct{}{}
		if id, dup := firstDuplicateID(s.Children, seen); dup {
			return id, true
		}
	}
	return "", false
}
