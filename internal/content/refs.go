// Package content parses note content for embedded image references.
//
// Notes have no join table to images: the set of images a note uses is
// derived from its text every time. Two embedding forms are recognised:
//
//	https://host/api/images/42   the URL returned by POST /api/images
//	image:42                     shorthand for editors that store bare ids
//
// The set is what matters. An image embedded twice in the same note counts
// once.
package content

import (
	"regexp"
	"slices"
	"strconv"
)

// Extractor returns the distinct image ids referenced by a note's content,
// sorted ascending.
type Extractor func(content string) []int64

var imageRefPattern = regexp.MustCompile(`(?:/api/images/|\bimage:)([0-9]{1,18})\b`)

// ImageRefs is the default Extractor.
func ImageRefs(content string) []int64 {
	matches := imageRefPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Diff compares two sorted, de-duplicated id sets and returns the ids only
// in next (added) and only in prev (removed). Both results are sorted.
func Diff(prev, next []int64) (added, removed []int64) {
	i, j := 0, 0
	for i < len(prev) && j < len(next) {
		switch {
		case prev[i] == next[j]:
			i++
			j++
		case prev[i] < next[j]:
			removed = append(removed, prev[i])
			i++
		default:
			added = append(added, next[j])
			j++
		}
	}
	removed = append(removed, prev[i:]...)
	added = append(added, next[j:]...)
	return added, removed
}

// ImageURL builds the canonical embed URL for an image id.
func ImageURL(baseURL string, id int64) string {
	return baseURL + "/api/images/" + strconv.FormatInt(id, 10)
}
