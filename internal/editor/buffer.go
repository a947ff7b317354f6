package editor

import (
	"fmt"
	"unicode/utf8"

	"quillsync/internal/ot"
)

// Change is an edit of the range [Start, End) in UTF-16 code units,
// replaced by Text. Synthetic marks a mutation performed by the sync
// core itself; change-event consumers drop synthetic changes instead of
// echoing them back as local edits.
type Change struct {
	Start     int
	End       int
	Text      string
	Synthetic bool
}

// Buffer is the minimal surface the synchronization core needs from a
// text-editing widget. Offsets are UTF-16 code units, the widget's
// native coordinate space.
type Buffer interface {
	Text() string
	Replace(start, end int, text string, synthetic bool) error
}

// TextBuffer is an in-memory Buffer for headless use and tests. Every
// mutation is reported to the OnChange subscriber with its synthetic
// flag intact.
type TextBuffer struct {
	text     string
	onChange func(Change)
}

func NewTextBuffer(text string) *TextBuffer {
	return &TextBuffer{text: text}
}

func (b *TextBuffer) OnChange(fn func(Change)) {
	b.onChange = fn
}

func (b *TextBuffer) Text() string {
	return b.text
}

func (b *TextBuffer) Replace(start, end int, text string, synthetic bool) error {
	if end < start {
		return fmt.Errorf("invalid replace range [%d, %d)", start, end)
	}
	startByte, err := byteOffsetForUTF16(b.text, start)
	if err != nil {
		return err
	}
	endByte, err := byteOffsetForUTF16(b.text, end)
	if err != nil {
		return err
	}

	b.text = b.text[:startByte] + text + b.text[endByte:]
	if b.onChange != nil {
		b.onChange(Change{Start: start, End: end, Text: text, Synthetic: synthetic})
	}
	return nil
}

// OperationFromChange builds a whole-document operation from a widget
// change, where text is the buffer content before the change was
// applied.
func OperationFromChange(text string, ch Change) (*ot.Operation, error) {
	start, err := UTF16ToCodepoint(text, ch.Start)
	if err != nil {
		return nil, err
	}
	end, err := UTF16ToCodepoint(text, ch.End)
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("invalid change range [%d, %d)", ch.Start, ch.End)
	}

	total := utf8.RuneCountInString(text)
	op := ot.New().Retain(start)
	if end > start {
		op.Delete(end - start)
	}
	op.Insert(ch.Text)
	op.Retain(total - end)
	return op, nil
}

// ApplyToBuffer replays op onto the widget as synthetic edits, so they
// are not reported back as local changes. A buffer whose length
// disagrees with the operation's base means buffer and shadow have
// drifted apart; that is fatal, never patched around.
func ApplyToBuffer(buf Buffer, op *ot.Operation) error {
	if n := utf8.RuneCountInString(buf.Text()); n != op.BaseLen() {
		return fmt.Errorf("buffer length %d does not match operation base length %d", n, op.BaseLen())
	}

	pos := 0 // codepoint position in the evolving buffer text
	for _, s := range op.Steps() {
		switch {
		case s.Retain > 0:
			pos += s.Retain
		case s.Delete > 0:
			text := buf.Text()
			start, err := CodepointToUTF16(text, pos)
			if err != nil {
				return err
			}
			end, err := CodepointToUTF16(text, pos+s.Delete)
			if err != nil {
				return err
			}
			if err := buf.Replace(start, end, "", true); err != nil {
				return err
			}
		default:
			text := buf.Text()
			at, err := CodepointToUTF16(text, pos)
			if err != nil {
				return err
			}
			if err := buf.Replace(at, at, s.Insert, true); err != nil {
				return err
			}
			pos += utf8.RuneCountInString(s.Insert)
		}
	}
	return nil
}
