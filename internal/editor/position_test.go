package editor

import "testing"

func TestUTF16Len(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"héllo", 5},
		{"a\U0001D11Eb", 4}, // astral codepoint is a surrogate pair
	}
	for _, tt := range tests {
		if got := UTF16Len(tt.text); got != tt.want {
			t.Errorf("UTF16Len(%q): expected %d, got %d", tt.text, tt.want, got)
		}
	}
}

func TestUTF16ToCodepoint(t *testing.T) {
	text := "a\U0001D11Eb"

	tests := []struct {
		offset int
		want   int
	}{
		{0, 0},
		{1, 1},
		{3, 2},
		{4, 3},
	}
	for _, tt := range tests {
		got, err := UTF16ToCodepoint(text, tt.offset)
		if err != nil {
			t.Fatalf("offset %d: expected no error, got %v", tt.offset, err)
		}
		if got != tt.want {
			t.Errorf("offset %d: expected codepoint %d, got %d", tt.offset, tt.want, got)
		}
	}
}

func TestUTF16ToCodepointSurrogateSplit(t *testing.T) {
	text := "a\U0001D11Eb"
	if _, err := UTF16ToCodepoint(text, 2); err == nil {
		t.Error("expected error for offset inside a surrogate pair")
	}
}

func TestUTF16ToCodepointOutOfRange(t *testing.T) {
	if _, err := UTF16ToCodepoint("ab", 5); err == nil {
		t.Error("expected error for offset beyond text")
	}
	if _, err := UTF16ToCodepoint("ab", -1); err == nil {
		t.Error("expected error for negative offset")
	}
}

func TestCodepointToUTF16(t *testing.T) {
	text := "a\U0001D11Eb"

	tests := []struct {
		offset int
		want   int
	}{
		{0, 0},
		{1, 1},
		{2, 3},
		{3, 4},
	}
	for _, tt := range tests {
		got, err := CodepointToUTF16(text, tt.offset)
		if err != nil {
			t.Fatalf("offset %d: expected no error, got %v", tt.offset, err)
		}
		if got != tt.want {
			t.Errorf("offset %d: expected unit offset %d, got %d", tt.offset, tt.want, got)
		}
	}

	if _, err := CodepointToUTF16(text, 4); err == nil {
		t.Error("expected error for codepoint offset beyond text")
	}
}

func TestByteOffsetForUTF16(t *testing.T) {
	text := "a\U0001D11Eb" // 1 + 4 + 1 bytes

	tests := []struct {
		offset int
		want   int
	}{
		{0, 0},
		{1, 1},
		{3, 5},
		{4, 6},
	}
	for _, tt := range tests {
		got, err := byteOffsetForUTF16(text, tt.offset)
		if err != nil {
			t.Fatalf("offset %d: expected no error, got %v", tt.offset, err)
		}
		if got != tt.want {
			t.Errorf("offset %d: expected byte offset %d, got %d", tt.offset, tt.want, got)
		}
	}

	if _, err := byteOffsetForUTF16(text, 2); err == nil {
		t.Error("expected error for offset inside a surrogate pair")
	}
}
