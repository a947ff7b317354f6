package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/gorilla/websocket"

	"quillsync/internal/ot"
	"quillsync/internal/protocol"
	"quillsync/internal/render"
)

// ErrOutOfSync is returned when the server declares the session
// unrecoverable. The caller must discard the session and prompt the
// user to reload.
var ErrOutOfSync = errors.New("session out of sync: reload required")

// SessionConfig describes one connection to the synchronization server.
type SessionConfig struct {
	// URL of the websocket endpoint, e.g. ws://host/ws?doc=id.
	URL string
	// Buffer is the editing widget (or a headless stand-in).
	Buffer Buffer
	// Debouncer, when set, is notified with the full text after every
	// buffer change so the render pipeline runs once edits settle.
	Debouncer *render.Debouncer
	// ResumeFrom, when set, reconnects with a known last seen revision
	// instead of requesting a full snapshot. The buffer must already
	// hold the text at that revision.
	ResumeFrom *uint64
}

// Session wires a buffer, the sync machine and one server connection
// into a single cooperative loop. Local edits and inbound wire messages
// are the only event sources; the buffer stays editable while an ack is
// outstanding because further edits fold into the machine's queue.
type Session struct {
	conn    *websocket.Conn
	machine *Machine
	buffer  Buffer
	shadow  string
	config  SessionConfig

	changes     chan Change
	inbound     chan *protocol.Message
	readErr     chan error
	initialized bool
}

// Dial connects to the server and prepares the session. Run must be
// called to start processing.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	endpoint := cfg.URL
	if cfg.ResumeFrom != nil {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid session url: %w", err)
		}
		q := u.Query()
		q.Set("from", fmt.Sprintf("%d", *cfg.ResumeFrom))
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	s := &Session{
		conn:    conn,
		buffer:  cfg.Buffer,
		config:  cfg,
		changes: make(chan Change, 64),
		inbound: make(chan *protocol.Message, 16),
		readErr: make(chan error, 1),
	}
	s.machine = NewMachine(s.sendEdit)

	if cfg.ResumeFrom != nil {
		s.machine.Reset(*cfg.ResumeFrom)
		s.shadow = cfg.Buffer.Text()
		s.initialized = true
	}
	return s, nil
}

// Edit feeds a widget change event into the session. Synthetic changes
// are the session's own writes echoed back; they are dropped here.
func (s *Session) Edit(ch Change) {
	if ch.Synthetic {
		return
	}
	s.changes <- ch
}

// LastSeenRevision reports the revision to resume from after a
// disconnect.
func (s *Session) LastSeenRevision() uint64 {
	return s.machine.LastSeenRevision()
}

// Run processes events until the context is cancelled, the connection
// drops or the server declares the session out of sync.
func (s *Session) Run(ctx context.Context) error {
	go s.readLoop()
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.readErr:
			return err
		case msg := <-s.inbound:
			if err := s.handleInbound(msg); err != nil {
				return err
			}
		case ch := <-s.changes:
			if err := s.handleChange(ch); err != nil {
				return err
			}
		}
	}
}

// handleInbound folds every queued widget change into the shadow before
// a server message is processed. A change event's buffer mutation has
// already happened when the event is queued, so replaying a residue
// ahead of it would land codepoint offsets on text the shadow has not
// seen yet.
func (s *Session) handleInbound(msg *protocol.Message) error {
	for {
		select {
		case ch := <-s.changes:
			if err := s.handleChange(ch); err != nil {
				return err
			}
		default:
			return s.handleMessage(msg)
		}
	}
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr <- err
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.readErr <- err
			return
		}
		s.inbound <- msg
	}
}

func (s *Session) handleChange(ch Change) error {
	op, err := OperationFromChange(s.shadow, ch)
	if err != nil {
		return fmt.Errorf("building operation from change: %w", err)
	}

	shadow, err := op.Apply(s.shadow)
	if err != nil {
		return fmt.Errorf("updating shadow text: %w", err)
	}
	s.shadow = shadow

	if err := s.machine.LocalEdit(op); err != nil {
		return err
	}
	s.notifyRender()
	return nil
}

func (s *Session) handleMessage(msg *protocol.Message) error {
	switch msg.Kind {
	case protocol.KindInit:
		var payload protocol.InitPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return s.handleInit(&payload)

	case protocol.KindHistory:
		var payload protocol.HistoryPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return s.handleHistory(&payload)

	case protocol.KindAck:
		var payload protocol.AckPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return s.machine.ServerAck(payload.UpToRevision)

	case protocol.KindOutOfSync:
		return ErrOutOfSync

	default:
		log.Printf("[Editor] unknown message kind: %s", msg.Kind)
		return nil
	}
}

func (s *Session) handleInit(payload *protocol.InitPayload) error {
	if err := s.buffer.Replace(0, UTF16Len(s.buffer.Text()), payload.Text, true); err != nil {
		return err
	}
	s.shadow = payload.Text
	s.machine.Reset(payload.Revision)
	s.initialized = true
	s.notifyRender()
	return nil
}

func (s *Session) handleHistory(payload *protocol.HistoryPayload) error {
	// Operations broadcast between registration and the init snapshot
	// are already reflected in the snapshot; drop them.
	if !s.initialized {
		log.Printf("[Editor] dropping history before init (start revision %d)", payload.StartRevision)
		return nil
	}

	residues, err := s.machine.History(payload.StartRevision, payload.Operations)
	if err != nil {
		return err
	}
	for _, op := range residues {
		if err := ApplyToBuffer(s.buffer, op); err != nil {
			return err
		}
		shadow, err := op.Apply(s.shadow)
		if err != nil {
			return err
		}
		s.shadow = shadow
	}
	if len(residues) > 0 {
		s.notifyRender()
	}
	return nil
}

// sendEdit encodes and writes an edit message. Only the Run goroutine
// calls it, via the machine, so writes never interleave.
func (s *Session) sendEdit(baseRevision uint64, op *ot.Operation) error {
	msg, err := protocol.NewMessage(protocol.KindEdit, &protocol.EditPayload{
		BaseRevision: baseRevision,
		Operation:    op,
	})
	if err != nil {
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Session) notifyRender() {
	if s.config.Debouncer != nil {
		s.config.Debouncer.Notify(s.shadow)
	}
}
