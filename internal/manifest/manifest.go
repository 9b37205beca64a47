// Package manifest reads and writes image manifests: XLSX workbooks with one
// row per inspection photo.
package manifest

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/xuri/excelize/v2"
)

// ErrInvalidManifest is returned for workbooks that cannot be turned into
// images.
var ErrInvalidManifest = errors.New("invalid manifest")

// Columns is the header row of a manifest, in template order.
var Columns = []string{"number", "id", "url", "description", "tag", "group"}

const sheetName = "Images"

// Read parses the first sheet of an XLSX manifest. Headers are matched case
// insensitively; number and id fall back to the row position, and the group
// cell may hold several labels separated by ";".
func Read(r io.Reader) ([]domain.Image, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidManifest)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrInvalidManifest, sheets[0])
	}

	col := make(map[string]int)
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"url", "tag"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrInvalidManifest, required)
		}
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var images []domain.Image
	for n, row := range rows[1:] {
		line := n + 2
		if isBlank(row) {
			continue
		}
		img := domain.Image{
			ID:          cell(row, "id"),
			URL:         cell(row, "url"),
			Description: cell(row, "description"),
			Tag:         domain.ImageTag(strings.ToLower(cell(row, "tag"))),
			Group:       splitGroups(cell(row, "group")),
			Number:      len(images) + 1,
		}
		if raw := cell(row, "number"); raw != "" {
			num, err := strconv.Atoi(raw)
			if err != nil || num < 0 {
				return nil, fmt.Errorf("%w: row %d: number %q", ErrInvalidManifest, line, raw)
			}
			img.Number = num
		}
		if img.ID == "" {
			img.ID = fmt.Sprintf("img-%d", img.Number)
		}
		if img.URL == "" {
			return nil, fmt.Errorf("%w: row %d: url is empty", ErrInvalidManifest, line)
		}
		if img.Tag != domain.ImageTagOverview && img.Tag != domain.ImageTagDeficiency {
			return nil, fmt.Errorf("%w: row %d: tag %q", ErrInvalidManifest, line, img.Tag)
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no image rows", ErrInvalidManifest)
	}
	return images, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func splitGroups(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ";") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// Write renders images as a manifest workbook.
func Write(w io.Writer, images []domain.Image) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	set := func(c, r int, v any) error {
		name, err := excelize.CoordinatesToCellName(c, r)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheetName, name, v)
	}

	for i, h := range Columns {
		if err := set(i+1, 1, h); err != nil {
			return err
		}
	}
	for n, img := range images {
		row := n + 2
		values := []any{img.Number, img.ID, img.URL, img.Description, string(img.Tag), strings.Join(img.Group, "; ")}
		for i, v := range values {
			if err := set(i+1, row, v); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "B", 10)
	_ = f.SetColWidth(sheetName, "C", "C", 48)
	_ = f.SetColWidth(sheetName, "D", "D", 60)
	_ = f.SetColWidth(sheetName, "E", "F", 16)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
