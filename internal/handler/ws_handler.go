package handler

import (
	"log"
	"net/http"
	"strconv"

	"quillsync/internal/protocol"
	"quillsync/internal/service"
	"quillsync/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager    *websocket.Manager
	defaultDoc string
	upgrader   ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, defaultDoc string, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		manager:    manager,
		defaultDoc: defaultDoc,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection upgrades the request to a websocket session. The
// document id comes from the `doc` query parameter; a reconnecting
// client passes its last seen revision as `from` to receive a history
// batch instead of a full init snapshot.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc")
	if docID == "" {
		docID = h.defaultDoc
	}

	var resumeFrom *uint64
	if from := r.URL.Query().Get("from"); from != "" {
		revision, err := strconv.ParseUint(from, 10, 64)
		if err != nil {
			http.Error(w, "invalid resume revision", http.StatusBadRequest)
			return
		}
		resumeFrom = &revision
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] failed to upgrade connection: %v", err)
		return
	}

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, docID, resumeFrom, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler routes decoded wire messages into the sync
// service.
type WebSocketMessageHandler struct {
	syncService *service.SyncService
}

func NewWebSocketMessageHandler(syncService *service.SyncService) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		syncService: syncService,
	}
}

func (h *WebSocketMessageHandler) JoinMessages(client *websocket.Client) ([][]byte, error) {
	return h.syncService.JoinFrames(client.DocumentID, client.ResumeFrom)
}

func (h *WebSocketMessageHandler) HandleClientMessage(client *websocket.Client, msg *protocol.Message) error {
	switch msg.Kind {
	case protocol.KindEdit:
		var payload protocol.EditPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return h.syncService.Edit(client.ID, client.DocumentID, &payload)

	default:
		log.Printf("[WebSocket] unknown message kind from client %s: %s", client.ID, msg.Kind)
	}

	return nil
}
