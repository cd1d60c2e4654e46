package knowledge

import (
	"strings"
	"unicode"
)

// split cuts text into chunks of at most size runes, each starting overlap
// runes before the previous chunk ended. Cuts prefer paragraph, then line,
// then sentence, then word boundaries in the back half of the window.
func split(text string, size, overlap int) []string {
	r := []rune(strings.TrimSpace(text))
	if len(r) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	for start := 0; start < len(r); {
		end := start + size
		if end >= len(r) {
			end = len(r)
		} else {
			end = cut(r, start, end)
		}
		if chunk := strings.TrimSpace(string(r[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(r) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// cut picks the best boundary in r[start:end], searching no earlier than the
// window midpoint so chunks never get much shorter than size.
func cut(r []rune, start, end int) int {
	floor := start + (end-start)/2
	for _, sep := range []string{"\n\n", "\n", ". ", "? ", "! "} {
		if i := lastIndex(r[floor:end], []rune(sep)); i >= 0 {
			return floor + i + len([]rune(sep))
		}
	}
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(r[i]) {
			return i + 1
		}
	}
	return end
}

func lastIndex(hay, needle []rune) int {
outer:
	for i := len(hay) - len(needle); i >= 0; i-- {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
