package ot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrBaseLengthMismatch      = errors.New("operation base length does not match text length")
	ErrComposeLengthMismatch   = errors.New("compose: first operation target length does not match second operation base length")
	ErrTransformLengthMismatch = errors.New("transform: operations have different base lengths")
	ErrMalformedOperation      = errors.New("malformed operation")
)

// step is one primitive of an operation. n > 0 retains n codepoints,
// n < 0 deletes -n codepoints, n == 0 inserts text.
type step struct {
	n    int
	text string
}

func (s step) isRetain() bool { return s.n > 0 }
func (s step) isDelete() bool { return s.n < 0 }
func (s step) isInsert() bool { return s.n == 0 }

// Operation is an ordered sequence of retain, insert and delete steps
// describing a transformation of a text buffer. All lengths are counted
// in Unicode codepoints, never in bytes or UTF-16 code units.
type Operation struct {
	steps     []step
	baseLen   int
	targetLen int
}

func New() *Operation {
	return &Operation{}
}

// BaseLen is the codepoint length of text this operation applies to.
func (op *Operation) BaseLen() int { return op.baseLen }

// TargetLen is the codepoint length of text this operation produces.
func (op *Operation) TargetLen() int { return op.targetLen }

// Retain appends a step that keeps the next n codepoints unchanged.
func (op *Operation) Retain(n int) *Operation {
	if n <= 0 {
		return op
	}
	op.baseLen += n
	op.targetLen += n
	if last := len(op.steps) - 1; last >= 0 && op.steps[last].isRetain() {
		op.steps[last].n += n
	} else {
		op.steps = append(op.steps, step{n: n})
	}
	return op
}

// Delete appends a step that removes the next n codepoints.
func (op *Operation) Delete(n int) *Operation {
	if n <= 0 {
		return op
	}
	op.baseLen += n
	if last := len(op.steps) - 1; last >= 0 && op.steps[last].isDelete() {
		op.steps[last].n -= n
	} else {
		op.steps = append(op.steps, step{n: -n})
	}
	return op
}

// Insert appends a step that inserts text. Inserts are kept ordered
// before an adjacent delete so equivalent operations have one canonical
// form.
func (op *Operation) Insert(text string) *Operation {
	if text == "" {
		return op
	}
	op.targetLen += utf8.RuneCountInString(text)
	last := len(op.steps) - 1
	switch {
	case last >= 0 && op.steps[last].isInsert():
		op.steps[last].text += text
	case last >= 0 && op.steps[last].isDelete():
		if last >= 1 && op.steps[last-1].isInsert() {
			op.steps[last-1].text += text
		} else {
			op.steps = append(op.steps, op.steps[last])
			op.steps[last] = step{text: text}
		}
	default:
		op.steps = append(op.steps, step{text: text})
	}
	return op
}

// Step is the exported view of one primitive. Exactly one field is
// set: Retain > 0, Delete > 0 or Insert non-empty.
type Step struct {
	Retain int
	Delete int
	Insert string
}

// Steps returns the operation's primitives in order.
func (op *Operation) Steps() []Step {
	out := make([]Step, len(op.steps))
	for i, s := range op.steps {
		switch {
		case s.isRetain():
			out[i] = Step{Retain: s.n}
		case s.isDelete():
			out[i] = Step{Delete: -s.n}
		default:
			out[i] = Step{Insert: s.text}
		}
	}
	return out
}

// IsNoop reports whether applying the operation leaves any text
// unchanged.
func (op *Operation) IsNoop() bool {
	for _, s := range op.steps {
		if !s.isRetain() {
			return false
		}
	}
	return true
}

// Apply runs the operation over text and returns the resulting string.
// It fails if the operation's base length disagrees with the codepoint
// length of text.
func (op *Operation) Apply(text string) (string, error) {
	runes := []rune(text)
	if len(runes) != op.baseLen {
		return "", fmt.Errorf("%w: operation base %d, text %d", ErrBaseLengthMismatch, op.baseLen, len(runes))
	}
	var b strings.Builder
	pos := 0
	for _, s := range op.steps {
		switch {
		case s.isRetain():
			b.WriteString(string(runes[pos : pos+s.n]))
			pos += s.n
		case s.isDelete():
			pos -= s.n
		default:
			b.WriteString(s.text)
		}
	}
	return b.String(), nil
}

// Compose returns a single operation equivalent to applying op and then
// other. op's target length must equal other's base length.
func (op *Operation) Compose(other *Operation) (*Operation, error) {
	if op.targetLen != other.baseLen {
		return nil, fmt.Errorf("%w: %d vs %d", ErrComposeLengthMismatch, op.targetLen, other.baseLen)
	}

	out := New()
	a, b := newCursor(op.steps), newCursor(other.steps)
	for {
		switch {
		case a.done() && b.done():
			return out, nil
		case !a.done() && a.head().isDelete():
			out.Delete(-a.head().n)
			a.next()
		case !b.done() && b.head().isInsert():
			out.Insert(b.head().text)
			b.next()
		case a.done() || b.done():
			return nil, fmt.Errorf("%w: compose ran out of steps", ErrMalformedOperation)
		case a.head().isRetain() && b.head().isRetain():
			n := minInt(a.head().n, b.head().n)
			out.Retain(n)
			a.consume(n)
			b.consume(n)
		case a.head().isRetain() && b.head().isDelete():
			n := minInt(a.head().n, -b.head().n)
			out.Delete(n)
			a.consume(n)
			b.consume(n)
		case a.head().isInsert() && b.head().isRetain():
			n := minInt(a.headLen(), b.head().n)
			out.Insert(a.takeText(n))
			b.consume(n)
		case a.head().isInsert() && b.head().isDelete():
			n := minInt(a.headLen(), -b.head().n)
			a.takeText(n)
			b.consume(n)
		default:
			return nil, ErrMalformedOperation
		}
	}
}

// Transform derives the bottom two sides of the OT diamond: for a and b
// defined against the same text, it returns (a', b') such that applying
// a then b' yields the same text as applying b then a'. Where two
// inserts land on the same position, a's insert is ordered first.
func Transform(a, b *Operation) (*Operation, *Operation, error) {
	if a.baseLen != b.baseLen {
		return nil, nil, fmt.Errorf("%w: %d vs %d", ErrTransformLengthMismatch, a.baseLen, b.baseLen)
	}

	aPrime, bPrime := New(), New()
	ca, cb := newCursor(a.steps), newCursor(b.steps)
	for {
		switch {
		case ca.done() && cb.done():
			return aPrime, bPrime, nil
		case !ca.done() && ca.head().isInsert():
			text := ca.head().text
			aPrime.Insert(text)
			bPrime.Retain(utf8.RuneCountInString(text))
			ca.next()
		case !cb.done() && cb.head().isInsert():
			text := cb.head().text
			aPrime.Retain(utf8.RuneCountInString(text))
			bPrime.Insert(text)
			cb.next()
		case ca.done() || cb.done():
			return nil, nil, fmt.Errorf("%w: transform ran out of steps", ErrMalformedOperation)
		case ca.head().isRetain() && cb.head().isRetain():
			n := minInt(ca.head().n, cb.head().n)
			aPrime.Retain(n)
			bPrime.Retain(n)
			ca.consume(n)
			cb.consume(n)
		case ca.head().isDelete() && cb.head().isDelete():
			// Both sides already removed this range.
			n := minInt(-ca.head().n, -cb.head().n)
			ca.consume(n)
			cb.consume(n)
		case ca.head().isDelete() && cb.head().isRetain():
			n := minInt(-ca.head().n, cb.head().n)
			aPrime.Delete(n)
			ca.consume(n)
			cb.consume(n)
		case ca.head().isRetain() && cb.head().isDelete():
			n := minInt(ca.head().n, -cb.head().n)
			bPrime.Delete(n)
			ca.consume(n)
			cb.consume(n)
		default:
			return nil, nil, ErrMalformedOperation
		}
	}
}

// cursor walks a step slice, consuming retains and deletes piecewise.
type cursor struct {
	steps []step
	i     int
	cur   step
}

func newCursor(steps []step) *cursor {
	c := &cursor{steps: steps}
	if len(steps) > 0 {
		c.cur = steps[0]
	}
	return c
}

func (c *cursor) done() bool { return c.i >= len(c.steps) }
func (c *cursor) head() step { return c.cur }

func (c *cursor) next() {
	c.i++
	if c.i < len(c.steps) {
		c.cur = c.steps[c.i]
	}
}

// consume uses up n codepoints of the current retain or delete step.
func (c *cursor) consume(n int) {
	switch {
	case c.cur.isRetain():
		c.cur.n -= n
		if c.cur.n == 0 {
			c.next()
		}
	case c.cur.isDelete():
		c.cur.n += n
		if c.cur.n == 0 {
			c.next()
		}
	}
}

// headLen is the codepoint length of the current insert step.
func (c *cursor) headLen() int {
	return utf8.RuneCountInString(c.cur.text)
}

// takeText removes and returns the first n codepoints of the current
// insert step.
func (c *cursor) takeText(n int) string {
	runes := []rune(c.cur.text)
	taken := string(runes[:n])
	if n == len(runes) {
		c.next()
	} else {
		c.cur.text = string(runes[n:])
	}
	return taken
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Wire form: a CBOR array where a positive integer retains, a negative
// integer deletes and a string inserts.

func (op *Operation) MarshalCBOR() ([]byte, error) {
	items := make([]interface{}, len(op.steps))
	for i, s := range op.steps {
		if s.isInsert() {
			items[i] = s.text
		} else {
			items[i] = s.n
		}
	}
	return cbor.Marshal(items)
}

func (op *Operation) UnmarshalCBOR(data []byte) error {
	var items []cbor.RawMessage
	if err := cbor.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	*op = Operation{}
	for _, item := range items {
		var n int64
		if err := cbor.Unmarshal(item, &n); err == nil {
			switch {
			case n > 0:
				op.Retain(int(n))
			case n < 0:
				op.Delete(int(-n))
			default:
				return fmt.Errorf("%w: zero-length step", ErrMalformedOperation)
			}
			continue
		}
		var text string
		if err := cbor.Unmarshal(item, &text); err != nil {
			return fmt.Errorf("%w: step is neither integer nor string", ErrMalformedOperation)
		}
		if text == "" {
			return fmt.Errorf("%w: empty insert step", ErrMalformedOperation)
		}
		op.Insert(text)
	}
	return nil
}

// Encode serializes the operation to its canonical binary form.
func (op *Operation) Encode() ([]byte, error) {
	return op.MarshalCBOR()
}

// Decode parses an operation from its canonical binary form.
func Decode(data []byte) (*Operation, error) {
	op := New()
	if err := op.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	return op, nil
}
