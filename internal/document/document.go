// Package document owns the authoritative state of one collaboratively
// edited text: the current content and the append-only log of accepted
// operations, one per revision.
package document

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"quillsync/internal/ot"
)

var ErrRevisionTooNew = errors.New("revision not reached by this document")

// Document serializes every text and log mutation behind one mutex, so
// one document is a single-writer critical section while independent
// documents proceed in parallel.
type Document struct {
	mu        sync.Mutex
	editMu    sync.Mutex
	id        string
	text      string
	log       []*ot.Operation
	createdAt time.Time
}

// New creates a document. A non-empty seed text occupies revision 1 as
// a single insert operation, so the text at any revision r is
// reproducible by applying log entries 1..r to the empty string.
func New(id, seed string) *Document {
	d := &Document{id: id, createdAt: time.Now()}
	if seed != "" {
		d.text = seed
		d.log = append(d.log, ot.New().Insert(seed))
	}
	return d
}

func (d *Document) ID() string { return d.id }

// LockEdits serializes the accept-and-fanout path for this document.
// Callers hold it across ApplyEdit and the enqueueing of the resulting
// frames, so every client observes history messages in log order. It is
// separate from mu, which guards individual state accesses.
func (d *Document) LockEdits() { d.editMu.Lock() }

func (d *Document) UnlockEdits() { d.editMu.Unlock() }

func (d *Document) CreatedAt() time.Time { return d.createdAt }

// Revision is the number of accepted operations.
func (d *Document) Revision() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(len(d.log))
}

// Snapshot returns the current text and revision as one consistent
// pair.
func (d *Document) Snapshot() (string, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text, uint64(len(d.log))
}

// ApplyEdit accepts an operation submitted against baseRevision. The
// operation is transformed over every log entry accepted since then,
// applied to the text and appended to the log. It returns the new
// revision and the transformed operation to broadcast.
func (d *Document) ApplyEdit(baseRevision uint64, op *ot.Operation) (uint64, *ot.Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if baseRevision > uint64(len(d.log)) {
		return 0, nil, fmt.Errorf("%w: client base revision %d, log has %d entries",
			ErrRevisionTooNew, baseRevision, len(d.log))
	}

	for _, accepted := range d.log[baseRevision:] {
		transformed, _, err := ot.Transform(op, accepted)
		if err != nil {
			return 0, nil, fmt.Errorf("transforming client operation against log entry: %w", err)
		}
		op = transformed
	}

	text, err := op.Apply(d.text)
	if err != nil {
		return 0, nil, fmt.Errorf("applying transformed operation: %w", err)
	}

	d.log = append(d.log, op)
	d.text = text
	return uint64(len(d.log)), op, nil
}

// Since returns a copy of every log entry accepted after start, i.e.
// the operations producing revisions start+1 onwards.
func (d *Document) Since(start uint64) ([]*ot.Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if start > uint64(len(d.log)) {
		return nil, fmt.Errorf("%w: requested history from revision %d, log has %d entries",
			ErrRevisionTooNew, start, len(d.log))
	}
	ops := make([]*ot.Operation, len(d.log)-int(start))
	copy(ops, d.log[start:])
	return ops, nil
}
