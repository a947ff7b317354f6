// Package render defines the contract with the document-rendering
// pipeline and the debounce policy that drives it. The sync core never
// renders; the surrounding application schedules a render after edits
// settle.
package render

import (
	"context"
	"sync"
	"time"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic locates a problem in the source text. Offsets are
// codepoints.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Hints    []string `json:"hints,omitempty"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// Result is a rendered artifact, a list of diagnostics, or both: a
// successful compile may still carry warnings.
type Result struct {
	Artifact    []byte
	Diagnostics []Diagnostic
}

// Renderer turns the full current text into a Result. Supplied by the
// application; consumed as a black box.
type Renderer interface {
	Render(ctx context.Context, text string) (*Result, error)
}

// Debouncer coalesces buffer changes into render passes: every change
// (re)schedules a render after a quiet interval, a newer change cancels
// the pending one, and two passes never overlap. When changes arrive
// during a pass, one follow-up pass runs with the latest text.
type Debouncer struct {
	renderer Renderer
	quiet    time.Duration
	onResult func(*Result, error)

	mu        sync.Mutex
	timer     *time.Timer
	text      string
	rendering bool
	queued    bool
	stopped   bool
}

func NewDebouncer(renderer Renderer, quiet time.Duration, onResult func(*Result, error)) *Debouncer {
	return &Debouncer{
		renderer: renderer,
		quiet:    quiet,
		onResult: onResult,
	}
}

// Notify records the latest text and (re)starts the quiet-period timer.
func (d *Debouncer) Notify(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.text = text
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.fire)
}

// Stop cancels any pending render. A pass already in flight finishes.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.rendering {
		d.queued = true
		d.mu.Unlock()
		return
	}
	d.rendering = true
	text := d.text
	d.mu.Unlock()

	for {
		result, err := d.renderer.Render(context.Background(), text)
		if d.onResult != nil {
			d.onResult(result, err)
		}

		d.mu.Lock()
		if d.queued && !d.stopped {
			d.queued = false
			text = d.text
			d.mu.Unlock()
			continue
		}
		d.rendering = false
		d.mu.Unlock()
		return
	}
}
