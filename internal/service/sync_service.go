package service

import (
	"fmt"
	"log"

	"quillsync/internal/document"
	"quillsync/internal/ot"
	"quillsync/internal/protocol"
	"quillsync/internal/repository"
)

// Broadcaster delivers encoded wire messages to connected clients.
// Implemented by the websocket manager; enqueueing never blocks on a
// slow network writer.
type Broadcaster interface {
	SendToClient(clientID string, data []byte)
	BroadcastToDocument(docID string, data []byte, excludeID string)
}

// SyncService owns the server side of the synchronization protocol:
// accepting edits against a base revision, acknowledging the sender and
// fanning the transformed operation out to every other editor of the
// document.
type SyncService struct {
	repo        repository.DocumentRepository
	broadcaster Broadcaster
}

func NewSyncService(repo repository.DocumentRepository, broadcaster Broadcaster) *SyncService {
	return &SyncService{
		repo:        repo,
		broadcaster: broadcaster,
	}
}

// JoinFrames builds the messages priming a new connection: an init
// snapshot for a fresh client, or a history batch covering everything
// accepted after resumeFrom for a reconnecting one. A resume claim past
// the end of the log is a desync; the session is rejected and no
// recovery attempted. The document is created on first use; identity
// management lives above this core.
func (s *SyncService) JoinFrames(docID string, resumeFrom *uint64) ([][]byte, error) {
	doc := s.repo.GetOrCreate(docID, "")

	if resumeFrom == nil {
		text, revision := doc.Snapshot()
		data, err := encodeMessage(protocol.KindInit, &protocol.InitPayload{
			Text:     text,
			Revision: revision,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[Sync] new client joined document %s at revision %d", docID, revision)
		return [][]byte{data}, nil
	}

	ops, err := doc.Since(*resumeFrom)
	if err != nil {
		return nil, fmt.Errorf("rejecting resume from revision %d: %w", *resumeFrom, err)
	}
	if len(ops) == 0 {
		return nil, nil
	}

	data, err := encodeMessage(protocol.KindHistory, &protocol.HistoryPayload{
		StartRevision: *resumeFrom,
		Operations:    ops,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Sync] client resumed document %s: %d operations from revision %d",
		docID, len(ops), *resumeFrom)
	return [][]byte{data}, nil
}

// Edit processes one client operation. On success the sender gets an
// ack with the new revision and everyone else on the document gets a
// single-entry history message carrying the transformed operation. Any
// failure is a protocol desync and terminates the session.
func (s *SyncService) Edit(clientID, docID string, payload *protocol.EditPayload) error {
	if payload.Operation == nil {
		return fmt.Errorf("%w: edit without operation", protocol.ErrMalformedMessage)
	}

	doc, err := s.repo.Get(docID)
	if err != nil {
		return fmt.Errorf("edit for unknown document %s: %w", docID, err)
	}

	// Held across apply and enqueue so broadcasts go out in log order.
	doc.LockEdits()
	defer doc.UnlockEdits()

	revision, transformed, err := doc.ApplyEdit(payload.BaseRevision, payload.Operation)
	if err != nil {
		return fmt.Errorf("rejecting edit at base revision %d: %w", payload.BaseRevision, err)
	}

	log.Printf("[Sync] document %s: accepted revision %d from client %s", docID, revision, clientID)

	ack, err := encodeMessage(protocol.KindAck, &protocol.AckPayload{UpToRevision: revision})
	if err != nil {
		return err
	}
	broadcast, err := encodeMessage(protocol.KindHistory, &protocol.HistoryPayload{
		StartRevision: revision - 1,
		Operations:    []*ot.Operation{transformed},
	})
	if err != nil {
		return err
	}

	s.broadcaster.SendToClient(clientID, ack)
	s.broadcaster.BroadcastToDocument(docID, broadcast, clientID)
	return nil
}

// Document returns the live document, creating it when absent.
func (s *SyncService) Document(docID string) *document.Document {
	return s.repo.GetOrCreate(docID, "")
}

func encodeMessage(kind protocol.Kind, payload interface{}) ([]byte, error) {
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(msg)
}
