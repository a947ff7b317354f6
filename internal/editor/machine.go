// Package editor implements the client side of the synchronization
// protocol: the operation-queuing state machine, conversion between the
// editing widget's UTF-16 coordinates and codepoint offsets, and the
// session loop speaking the wire protocol over a websocket.
package editor

import (
	"errors"
	"fmt"
	"log"

	"quillsync/internal/ot"
)

var ErrDesync = errors.New("local state diverged from server history")

type State int

const (
	// StateIdle: no operation in flight, none queued.
	StateIdle State = iota
	// StatePending: one operation sent and awaiting its ack.
	StatePending
	// StatePendingQueued: awaiting an ack with further local edits
	// composed into a single queued operation.
	StatePendingQueued
)

// SendFunc delivers an operation to the server as an edit message
// submitted against baseRevision.
type SendFunc func(baseRevision uint64, op *ot.Operation) error

// Machine tracks at most one outstanding and one queued operation.
// Every additional local edit made while an ack is pending folds into
// the queued operation via compose, so memory stays bounded no matter
// how long the round trip takes.
type Machine struct {
	send        SendFunc
	lastSeen    uint64
	outstanding *ot.Operation
	next        *ot.Operation
}

func NewMachine(send SendFunc) *Machine {
	return &Machine{send: send}
}

func (m *Machine) State() State {
	switch {
	case m.outstanding == nil:
		return StateIdle
	case m.next == nil:
		return StatePending
	default:
		return StatePendingQueued
	}
}

// LastSeenRevision is the highest revision whose effects are reflected
// in the local buffer.
func (m *Machine) LastSeenRevision() uint64 { return m.lastSeen }

// Reset positions the machine at revision with no in-flight work, as
// after an init snapshot or a reconnect.
func (m *Machine) Reset(revision uint64) {
	m.lastSeen = revision
	m.outstanding = nil
	m.next = nil
}

// LocalEdit records an operation produced by a local change. No-ops are
// dropped before they reach the wire.
func (m *Machine) LocalEdit(op *ot.Operation) error {
	if op == nil || op.IsNoop() {
		return nil
	}

	switch m.State() {
	case StateIdle:
		m.outstanding = op
		return m.send(m.lastSeen, op)
	case StatePending:
		m.next = op
	default:
		composed, err := m.next.Compose(op)
		if err != nil {
			return fmt.Errorf("folding local edit into queued operation: %w", err)
		}
		m.next = composed
	}
	return nil
}

// ServerAck confirms the outstanding operation up to the given
// revision and promotes the queued operation onto the wire. An ack with
// nothing outstanding is a protocol violation; it is logged rather than
// fatal, but signals desync risk.
func (m *Machine) ServerAck(upTo uint64) error {
	m.lastSeen = upTo

	if m.outstanding == nil {
		log.Printf("[Editor] ack up to revision %d with no outstanding operation", upTo)
		return nil
	}

	m.outstanding = m.next
	m.next = nil
	if m.outstanding != nil {
		return m.send(m.lastSeen, m.outstanding)
	}
	return nil
}

// ServerOperation reconciles a broadcast of another editor's accepted
// operation against the outstanding and queued operations, and returns
// the residue to apply to the local buffer (nil when its effect is
// empty).
func (m *Machine) ServerOperation(op *ot.Operation, newRevision uint64) (*ot.Operation, error) {
	if m.outstanding != nil {
		outstanding, transformed, err := ot.Transform(m.outstanding, op)
		if err != nil {
			return nil, fmt.Errorf("transforming outstanding operation: %w", err)
		}
		m.outstanding = outstanding
		op = transformed
	}
	if m.next != nil {
		next, transformed, err := ot.Transform(m.next, op)
		if err != nil {
			return nil, fmt.Errorf("transforming queued operation: %w", err)
		}
		m.next = next
		op = transformed
	}

	m.lastSeen = newRevision
	if op.IsNoop() {
		return nil, nil
	}
	return op, nil
}

// History reconciles a catch-up batch: operations producing revisions
// start+1 onwards. Entries already reflected locally are skipped; the
// remainder feed through ServerOperation in order. A batch starting
// past the local revision means the server history has a gap from this
// client's point of view, which is fatal.
func (m *Machine) History(start uint64, ops []*ot.Operation) ([]*ot.Operation, error) {
	if start > m.lastSeen {
		return nil, fmt.Errorf("%w: history starts at revision %d, last seen %d", ErrDesync, start, m.lastSeen)
	}

	skip := m.lastSeen - start
	if skip >= uint64(len(ops)) {
		return nil, nil
	}

	var apply []*ot.Operation
	for _, op := range ops[skip:] {
		residue, err := m.ServerOperation(op, m.lastSeen+1)
		if err != nil {
			return nil, err
		}
		if residue != nil {
			apply = append(apply, residue)
		}
	}
	return apply, nil
}
