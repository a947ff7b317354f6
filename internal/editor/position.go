package editor

import "fmt"

// The editing widget reports offsets in UTF-16 code units while
// operations count Unicode codepoints, so positions must be converted
// at the boundary in both directions. Each Unicode scalar value is one
// codepoint; grapheme clusters get no special handling.

func utf16Width(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

// UTF16Len is the length of text in UTF-16 code units.
func UTF16Len(text string) int {
	units := 0
	for _, r := range text {
		units += utf16Width(r)
	}
	return units
}

// UTF16ToCodepoint converts a UTF-16 code-unit offset into text to a
// codepoint offset. An offset landing inside a surrogate pair or past
// the end of the text is an error.
func UTF16ToCodepoint(text string, offset int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative utf-16 offset %d", offset)
	}
	units, codepoints := 0, 0
	for _, r := range text {
		if units == offset {
			return codepoints, nil
		}
		w := utf16Width(r)
		if units+w > offset {
			return 0, fmt.Errorf("utf-16 offset %d splits a surrogate pair", offset)
		}
		units += w
		codepoints++
	}
	if units == offset {
		return codepoints, nil
	}
	return 0, fmt.Errorf("utf-16 offset %d beyond text length %d", offset, units)
}

// CodepointToUTF16 converts a codepoint offset into text to a UTF-16
// code-unit offset.
func CodepointToUTF16(text string, offset int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative codepoint offset %d", offset)
	}
	units, codepoints := 0, 0
	for _, r := range text {
		if codepoints == offset {
			return units, nil
		}
		units += utf16Width(r)
		codepoints++
	}
	if codepoints == offset {
		return units, nil
	}
	return 0, fmt.Errorf("codepoint offset %d beyond text length %d", offset, codepoints)
}

// byteOffsetForUTF16 converts a UTF-16 code-unit offset to a byte index
// into text.
func byteOffsetForUTF16(text string, offset int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative utf-16 offset %d", offset)
	}
	units := 0
	for i, r := range text {
		if units == offset {
			return i, nil
		}
		w := utf16Width(r)
		if units+w > offset {
			return 0, fmt.Errorf("utf-16 offset %d splits a surrogate pair", offset)
		}
		units += w
	}
	if units == offset {
		return len(text), nil
	}
	return 0, fmt.Errorf("utf-16 offset %d beyond text length %d", offset, units)
}
