package escpos

import (
	"strings"
	"unicode/utf8"
)

// FormatColumns lays out left and right on one line of width characters.
// At least one space separates them; the result is truncated to width,
// never wrapped.
func FormatColumns(width int, left, right string) string {
	if width <= 0 {
		return ""
	}

	left, right = singleLine(left), singleLine(right)

	pad := width - runeLen(left) - runeLen(right)
	if pad < 1 {
		pad = 1
	}

	return truncate(left+strings.Repeat(" ", pad)+right, width)
}

// FormatColumns3 lays out three columns on one line. Leftover padding is
// split between the two gaps; an odd extra space goes to the right gap.
func FormatColumns3(width int, left, middle, right string) string {
	if width <= 0 {
		return ""
	}

	left, middle, right = singleLine(left), singleLine(middle), singleLine(right)

	gap := width - runeLen(left) - runeLen(middle) - runeLen(right)

	leftGap, rightGap := 1, 1
	if gap >= 2 {
		leftGap = gap / 2
		rightGap = gap - leftGap
	}

	line := left + strings.Repeat(" ", leftGap) + middle + strings.Repeat(" ", rightGap) + right

	return truncate(line, width)
}

func singleLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(s)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func truncate(s string, width int) string {
	if runeLen(s) <= width {
		return s
	}

	n := 0
	for i := range s {
		if n == width {
			return s[:i]
		}
		n++
	}

	return s
}
