package service

import (
	"fmt"
	"sync"
	"testing"

	"quillsync/internal/ot"
	"quillsync/internal/protocol"
	"quillsync/internal/repository"
)

type directFrame struct {
	clientID string
	msg      *protocol.Message
}

type broadcastFrame struct {
	docID     string
	excludeID string
	msg       *protocol.Message
}

// mockBroadcaster records every frame instead of touching the network.
type mockBroadcaster struct {
	mu         sync.Mutex
	direct     []directFrame
	broadcasts []broadcastFrame
}

func (m *mockBroadcaster) SendToClient(clientID string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.direct = append(m.direct, directFrame{clientID: clientID, msg: msg})
	m.mu.Unlock()
}

func (m *mockBroadcaster) BroadcastToDocument(docID string, data []byte, excludeID string) {
	msg, err := protocol.Decode(data)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.broadcasts = append(m.broadcasts, broadcastFrame{docID: docID, excludeID: excludeID, msg: msg})
	m.mu.Unlock()
}

func TestJoinFramesFreshClient(t *testing.T) {
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", "hello"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	svc := NewSyncService(repo, &mockBroadcaster{})

	frames, err := svc.JoinFrames("notes", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	msg, err := protocol.Decode(frames[0])
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.Kind != protocol.KindInit {
		t.Fatalf("expected init message, got %s", msg.Kind)
	}
	var payload protocol.InitPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payload.Text != "hello" || payload.Revision != 1 {
		t.Errorf("unexpected snapshot: %q at revision %d", payload.Text, payload.Revision)
	}
}

func TestJoinFramesCreatesDocument(t *testing.T) {
	repo := repository.NewDocumentRepository()
	svc := NewSyncService(repo, &mockBroadcaster{})

	frames, err := svc.JoinFrames("fresh", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if _, err := repo.Get("fresh"); err != nil {
		t.Errorf("expected document to exist after join, got %v", err)
	}
}

func TestJoinFramesResume(t *testing.T) {
	repo := repository.NewDocumentRepository()
	doc, err := repo.Create("notes", "ab")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, _, err := doc.ApplyEdit(1, ot.New().Retain(2).Insert("c")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	svc := NewSyncService(repo, &mockBroadcaster{})

	from := uint64(1)
	frames, err := svc.JoinFrames("notes", &from)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	msg, err := protocol.Decode(frames[0])
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.Kind != protocol.KindHistory {
		t.Fatalf("expected history message, got %s", msg.Kind)
	}
	var payload protocol.HistoryPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payload.StartRevision != 1 || len(payload.Operations) != 1 {
		t.Fatalf("unexpected history: start %d, %d operations", payload.StartRevision, len(payload.Operations))
	}
	got, err := payload.Operations[0].Apply("ab")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "abc" {
		t.Errorf("expected catch-up to give %q, got %q", "abc", got)
	}
}

func TestJoinFramesResumeUpToDate(t *testing.T) {
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", "ab"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	svc := NewSyncService(repo, &mockBroadcaster{})

	from := uint64(1)
	frames, err := svc.JoinFrames("notes", &from)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected no frames for an up-to-date client, got %d", len(frames))
	}
}

func TestJoinFramesResumeBeyondLog(t *testing.T) {
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", "ab"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	svc := NewSyncService(repo, &mockBroadcaster{})

	from := uint64(10)
	if _, err := svc.JoinFrames("notes", &from); err == nil {
		t.Error("expected resume past the log to be rejected")
	}
}

func TestEditAcksSenderAndBroadcasts(t *testing.T) {
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", "ab"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	broadcaster := &mockBroadcaster{}
	svc := NewSyncService(repo, broadcaster)

	err := svc.Edit("c1", "notes", &protocol.EditPayload{
		BaseRevision: 1,
		Operation:    ot.New().Delete(1).Retain(1),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(broadcaster.direct) != 1 {
		t.Fatalf("expected 1 direct frame, got %d", len(broadcaster.direct))
	}
	ack := broadcaster.direct[0]
	if ack.clientID != "c1" || ack.msg.Kind != protocol.KindAck {
		t.Fatalf("expected ack to c1, got %s to %s", ack.msg.Kind, ack.clientID)
	}
	var ackPayload protocol.AckPayload
	if err := ack.msg.UnmarshalPayload(&ackPayload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ackPayload.UpToRevision != 2 {
		t.Errorf("expected ack up to revision 2, got %d", ackPayload.UpToRevision)
	}

	if len(broadcaster.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(broadcaster.broadcasts))
	}
	fanout := broadcaster.broadcasts[0]
	if fanout.docID != "notes" || fanout.excludeID != "c1" {
		t.Errorf("expected broadcast to notes excluding c1, got %s excluding %s", fanout.docID, fanout.excludeID)
	}
	if fanout.msg.Kind != protocol.KindHistory {
		t.Fatalf("expected history broadcast, got %s", fanout.msg.Kind)
	}
	var history protocol.HistoryPayload
	if err := fanout.msg.UnmarshalPayload(&history); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if history.StartRevision != 1 || len(history.Operations) != 1 {
		t.Fatalf("unexpected history: start %d, %d operations", history.StartRevision, len(history.Operations))
	}
}

func TestEditTransformsStaleBase(t *testing.T) {
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", "ab"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	broadcaster := &mockBroadcaster{}
	svc := NewSyncService(repo, broadcaster)

	// Both clients edited revision 1 concurrently.
	err := svc.Edit("c1", "notes", &protocol.EditPayload{
		BaseRevision: 1,
		Operation:    ot.New().Delete(1).Retain(1),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	err = svc.Edit("c2", "notes", &protocol.EditPayload{
		BaseRevision: 1,
		Operation:    ot.New().Retain(2).Insert("x"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	doc, err := repo.Get("notes")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	text, revision := doc.Snapshot()
	if text != "bx" || revision != 3 {
		t.Errorf("expected %q at revision 3, got %q at %d", "bx", text, revision)
	}

	// The second broadcast carries c2's operation transformed to fit
	// the text as c1 left it.
	var history protocol.HistoryPayload
	if err := broadcaster.broadcasts[1].msg.UnmarshalPayload(&history); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := history.Operations[0].Apply("b")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "bx" {
		t.Errorf("expected transformed broadcast to give %q, got %q", "bx", got)
	}
}

func TestEditBroadcastsInLogOrder(t *testing.T) {
	// Concurrent editors on one document: the edit lock covers apply
	// and enqueue together, so the recorded broadcasts carry strictly
	// consecutive revisions.
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	broadcaster := &mockBroadcaster{}
	svc := NewSyncService(repo, broadcaster)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				err := svc.Edit(fmt.Sprintf("c%d", n), "notes", &protocol.EditPayload{
					BaseRevision: 0,
					Operation:    ot.New().Insert("x"),
				})
				if err != nil {
					t.Errorf("expected no error, got %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if len(broadcaster.broadcasts) != 80 {
		t.Fatalf("expected 80 broadcasts, got %d", len(broadcaster.broadcasts))
	}
	for i, fanout := range broadcaster.broadcasts {
		var history protocol.HistoryPayload
		if err := fanout.msg.UnmarshalPayload(&history); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if history.StartRevision != uint64(i) {
			t.Fatalf("broadcast %d out of order: start revision %d", i, history.StartRevision)
		}
	}
}

func TestEditWithoutOperation(t *testing.T) {
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	svc := NewSyncService(repo, &mockBroadcaster{})

	if err := svc.Edit("c1", "notes", &protocol.EditPayload{BaseRevision: 0}); err == nil {
		t.Error("expected edit without operation to be rejected")
	}
}

func TestEditUnknownDocument(t *testing.T) {
	svc := NewSyncService(repository.NewDocumentRepository(), &mockBroadcaster{})

	err := svc.Edit("c1", "missing", &protocol.EditPayload{
		BaseRevision: 0,
		Operation:    ot.New().Insert("a"),
	})
	if err == nil {
		t.Error("expected edit for unknown document to fail")
	}
}

func TestEditFutureBaseRevision(t *testing.T) {
	repo := repository.NewDocumentRepository()
	if _, err := repo.Create("notes", "ab"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	broadcaster := &mockBroadcaster{}
	svc := NewSyncService(repo, broadcaster)

	err := svc.Edit("c1", "notes", &protocol.EditPayload{
		BaseRevision: 9,
		Operation:    ot.New().Retain(2),
	})
	if err == nil {
		t.Fatal("expected edit against a future revision to fail")
	}
	if len(broadcaster.direct) != 0 || len(broadcaster.broadcasts) != 0 {
		t.Error("expected no frames after a rejected edit")
	}
}
