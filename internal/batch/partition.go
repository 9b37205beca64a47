package batch

import "github.com/phrazzld/reportgen/internal/domain"

// Batch is an ordered slice of at most Size images sent in one request.
type Batch struct {
	// Index is the 0-based dispatch position.
	Index int
	// Group is the bucket label in grouped mode; empty otherwise and for the
	// synthetic no-group bucket.
	Group  string
	Images []domain.Image
}

// Partition splits images into batches of at most size. Ungrouped mode
// preserves input order. Grouped mode buckets images by their first group
// label and splits each bucket independently; buckets follow groupOrder,
// then first appearance, and the no-group bucket comes last.
func Partition(images []domain.Image, size int, grouping domain.Grouping, groupOrder []string) []Batch {
	if size < 1 {
		size = 1
	}
	if grouping != domain.Grouped {
		return split(nil, images, size, "")
	}

	buckets := make(map[string][]domain.Image)
	var seen []string
	var ungrouped []domain.Image
	for _, img := range images {
		label := img.GroupLabel()
		if label == "" {
			ungrouped = append(ungrouped, img)
			continue
		}
		if _, ok := buckets[label]; !ok {
			seen = append(seen, label)
		}
		buckets[label] = append(buckets[label], img)
	}

	var out []Batch
	for _, label := range OrderGroups(seen, groupOrder) {
		out = split(out, buckets[label], size, label)
	}
	return split(out, ungrouped, size, "")
}

// OrderGroups orders labels by their position in preferred, then by their
// order in labels. Preferred labels absent from labels are dropped.
func OrderGroups(labels, preferred []string) []string {
	present := make(map[string]bool, len(labels))
	for _, l := range labels {
		present[l] = true
	}

	out := make([]string, 0, len(labels))
	placed := make(map[string]bool, len(labels))
	for _, l := range preferred {
		if present[l] && !placed[l] {
			out = append(out, l)
			placed[l] = true
		}
	}
	for _, l := range labels {
		if !placed[l] {
			out = append(out, l)
			placed[l] = true
		}
	}
	return out
}

func split(out []Batch, images []domain.Image, size int, group string) []Batch {
	for start := 0; start < len(images); start += size {
		end := min(start+size, len(images))
		out = append(out, Batch{
			Index:  len(out),
			Group:  group,
			Images: images[start:end:end],
		})
	}
	return out
}
