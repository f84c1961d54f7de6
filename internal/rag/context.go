// Package rag packs retrieved knowledge into a bounded block of prompt text.
package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
)

// DefaultMaxChars is the context budget used when the caller gives none.
const DefaultMaxChars = 800

// minFragment is the smallest remaining room worth filling with a truncated
// entry. Anything shorter is dropped.
const minFragment = 24

const ellipsis = "…"

// Packed is a built context and the results that made it in.
type Packed struct {
	Text      string
	Used      []retrieval.Result
	Truncated bool
}

// Builder assembles context strings. Lengths are counted in runes so Korean
// and English text share one budget.
type Builder struct {
	MaxChars int
}

// NewBuilder returns a builder whose default budget is maxChars, or
// DefaultMaxChars when maxChars is negative.
func NewBuilder(maxChars int) *Builder {
	if maxChars < 0 {
		maxChars = DefaultMaxChars
	}
	return &Builder{MaxChars: maxChars}
}

// Build packs results with the builder's own budget.
func (b *Builder) Build(results []retrieval.Result) Packed {
	return Pack(results, b.MaxChars)
}

// Pack adds results in the given order, which is expected to be descending
// similarity. The first entry that does not fit is cut when at least
// minFragment runes remain; everything after it is dropped. The returned
// text is never longer than maxChars runes.
func Pack(results []retrieval.Result, maxChars int) Packed {
	if maxChars <= 0 || len(results) == 0 {
		return Packed{}
	}

	var sb strings.Builder
	var out Packed
	remaining := maxChars
	for _, r := range results {
		entry := formatEntry(r)
		sep := 0
		if sb.Len() > 0 {
			sep = 1
		}
		n := utf8.RuneCountInString(entry)
		if n+sep <= remaining {
			if sep == 1 {
				sb.WriteByte('\n')
			}
			sb.WriteString(entry)
			remaining -= n + sep
			out.Used = append(out.Used, r)
			continue
		}

		if remaining-sep >= minFragment {
			if sep == 1 {
				sb.WriteByte('\n')
			}
			sb.WriteString(truncate(entry, remaining-sep))
			out.Used = append(out.Used, r)
			out.Truncated = true
		}
		break
	}
	out.Text = sb.String()
	return out
}

func formatEntry(r retrieval.Result) string {
	text := strings.TrimSpace(r.Item.Content)
	text = strings.Join(strings.Fields(text), " ")
	return fmt.Sprintf("- [%s] %s", r.Item.Type, text)
}

// truncate cuts s to at most max runes, ending in an ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - utf8.RuneCountInString(ellipsis)
	i := 0
	for pos := range s {
		if i == keep {
			return s[:pos] + ellipsis
		}
		i++
	}
	return s
}
