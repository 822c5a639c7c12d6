// Package prompt renders the OCR fragments and the visual caption into the
// structured prompt handed to the synthesis model. Pure string building;
// fragments are grouped into row bands so the model sees the approximate
// on-screen layout.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"screen-explain/caption"
	"screen-explain/ocr"
)

const preamble = "You are looking at a screenshot that contains both text and visual elements. " +
	"Your task is to describe what you see by combining the visible text and visuals " +
	"to provide an accurate explanation."

const instructions = `Instructions:
1. ONLY describe what is clearly visible in the data provided.
2. Identify the type of interface or application shown.
3. Group and organize the text based on where it appears (top to bottom, left to right).
4. Use the positions of the text to understand how elements relate to each other.
5. Present the most important information in a logical order.
6. Do NOT guess or add information not supported by what you see; acknowledge uncertainty.
7. The text may contain OCR misreads; correct obvious typos or ignore them.
Keep the answer conversational, as if describing the screenshot to a friend, without mentioning OCR or analysis steps.`

const emptyNotice = "No text or visual content was detected in the captured region. " +
	"State briefly that the selected area appears to be empty or unreadable."

// Synthesize renders the prompt for the final analysis. When both inputs are
// empty it emits a minimal prompt noting that nothing was detected.
func Synthesize(fragments []ocr.Fragment, visual caption.Result) string {
	hasText := len(fragments) > 0
	hasCaption := strings.TrimSpace(visual.Text) != ""

	if !hasText && !hasCaption {
		return preamble + "\n\n" + emptyNotice
	}

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")

	if hasCaption {
		b.WriteString("Visual description:\n")
		b.WriteString(strings.TrimSpace(visual.Text))
		b.WriteString("\n\n")
	}

	if hasText {
		b.WriteString("Text content by row (top to bottom, left to right):\n")
		for i, row := range groupRows(fragments) {
			parts := make([]string, len(row))
			for j, f := range row {
				parts[j] = fmt.Sprintf("%q (x=%d, y=%d)", f.Text, f.Box.Min.X, f.Box.Min.Y)
			}
			fmt.Fprintf(&b, "Row %d: %s\n", i+1, strings.Join(parts, " | "))
		}
		b.WriteString("Text that appears close together likely relates to the same topic.\n\n")
	}

	b.WriteString(instructions)
	return b.String()
}

// groupRows bands fragments whose vertical centers fall within half the
// median fragment height of the band's first member. Input order is assumed
// to be reading order; each band is re-sorted left to right.
func groupRows(fragments []ocr.Fragment) [][]ocr.Fragment {
	sorted := make([]ocr.Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Box.Min.Y != sorted[j].Box.Min.Y {
			return sorted[i].Box.Min.Y < sorted[j].Box.Min.Y
		}
		return sorted[i].Box.Min.X < sorted[j].Box.Min.X
	})

	band := medianHeight(sorted) / 2
	if band < 1 {
		band = 1
	}

	var rows [][]ocr.Fragment
	var current []ocr.Fragment
	var anchor int

	for _, f := range sorted {
		center := f.Box.Min.Y + f.Box.Dy()/2
		if current == nil {
			current = []ocr.Fragment{f}
			anchor = center
			continue
		}
		if abs(center-anchor) <= band {
			current = append(current, f)
			continue
		}
		rows = append(rows, sortRow(current))
		current = []ocr.Fragment{f}
		anchor = center
	}
	if current != nil {
		rows = append(rows, sortRow(current))
	}
	return rows
}

func sortRow(row []ocr.Fragment) []ocr.Fragment {
	sort.SliceStable(row, func(i, j int) bool {
		return row[i].Box.Min.X < row[j].Box.Min.X
	})
	return row
}

func medianHeight(fragments []ocr.Fragment) int {
	heights := make([]int, len(fragments))
	for i, f := range fragments {
		heights[i] = f.Box.Dy()
	}
	sort.Ints(heights)
	return heights[len(heights)/2]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
