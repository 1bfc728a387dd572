// Package natsort orders strings the way people read numbered filenames:
// "image_9" before "image_10".
package natsort

import (
	"regexp"
	"sort"
	"strings"
)

var digits = regexp.MustCompile(`[0-9]+`)

type chunk struct {
	text  string
	num   string // digits with leading zeros stripped
	isNum bool
}

// key splits s into alternating text and digit runs, starting with a text
// run. Text runs may be empty, so keys of differently shaped strings still
// line up by kind.
func key(s string) []chunk {
	var out []chunk
	last := 0
	for _, loc := range digits.FindAllStringIndex(s, -1) {
		out = append(out, chunk{text: strings.ToLower(s[last:loc[0]])})
		n := strings.TrimLeft(s[loc[0]:loc[1]], "0")
		out = append(out, chunk{num: n, isNum: true})
		last = loc[1]
	}
	return append(out, chunk{text: strings.ToLower(s[last:])})
}

func compareNum(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func compareChunk(a, b chunk) int {
	switch {
	case a.isNum && b.isNum:
		return compareNum(a.num, b.num)
	case !a.isNum && !b.isNum:
		return strings.Compare(a.text, b.text)
	case a.isNum:
		return -1
	default:
		return 1
	}
}

// Compare returns -1, 0 or 1 as a sorts before, equal to, or after b.
func Compare(a, b string) int {
	ka, kb := key(a), key(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := compareChunk(ka[i], kb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ka) < len(kb):
		return -1
	case len(ka) > len(kb):
		return 1
	}
	return 0
}

// Less reports whether a sorts before b.
func Less(a, b string) bool { return Compare(a, b) < 0 }

// Sort sorts names in place. Names with equal keys keep their order.
func Sort(names []string) {
	sort.SliceStable(names, func(i, j int) bool { return Less(names[i], names[j]) })
}
