package websocket

import (
	"log"
	"sync"
	"time"

	"quillsync/internal/protocol"
)

// MessageHandler receives decoded wire messages and supplies the frames
// priming a new connection. Edit handling runs on the owning
// connection's read goroutine, so separate documents are served in
// parallel while each connection stays in order.
type MessageHandler interface {
	// JoinMessages returns the frames seeding a new connection's
	// outbound queue: init for a fresh client, or a history batch when
	// resuming from a known revision. Called under the registration
	// lock; it must not call back into the Manager.
	JoinMessages(client *Client) ([][]byte, error)
	HandleClientMessage(client *Client, msg *protocol.Message) error
}

type Manager struct {
	clients        map[string]*Client
	docIndex       map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	maxConnPerDoc  int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
}

func NewManager(maxConnPerDoc int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		docIndex:       make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		maxConnPerDoc:  maxConnPerDoc,
		maxMessageSize: maxMessageSize,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)
		}
	}
}

// registerClient admits a connection and primes its outbound queue.
// Priming happens while the registration lock is held: broadcasts also
// take that lock, so no accepted operation can slip between the join
// snapshot and the client becoming visible to fan-out.
func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()

	if m.docIndex[client.DocumentID] == nil {
		m.docIndex[client.DocumentID] = make(map[string]bool)
	}

	if len(m.docIndex[client.DocumentID]) >= m.maxConnPerDoc {
		m.clientsMutex.Unlock()
		log.Printf("[WebSocket] max connections reached for document %s", client.DocumentID)
		close(client.Send)
		return
	}

	var frames [][]byte
	var joinErr error
	if m.messageHandler != nil {
		frames, joinErr = m.messageHandler.JoinMessages(client)
	}

	if joinErr != nil {
		m.clientsMutex.Unlock()
		log.Printf("[WebSocket] rejecting client %s: %v", client.ID, joinErr)
		if data, err := encodeOutOfSync(); err == nil {
			client.Send <- data
		}
		close(client.Send)
		return
	}

	for _, frame := range frames {
		client.Send <- frame
	}
	m.clients[client.ID] = client
	m.docIndex[client.DocumentID][client.ID] = true
	m.clientsMutex.Unlock()

	log.Printf("[WebSocket] client registered: %s (document: %s)", client.ID, client.DocumentID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.docIndex[client.DocumentID], client.ID)

		if len(m.docIndex[client.DocumentID]) == 0 {
			delete(m.docIndex, client.DocumentID)
		}

		close(client.Send)
		log.Printf("[WebSocket] client unregistered: %s", client.ID)
	}
}

// dispatch decodes and handles one inbound frame. A decode failure or a
// handler desync terminates the session with out_of_sync per the
// protocol's error rules.
func (m *Manager) dispatch(client *Client, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("[WebSocket] undecodable message from client %s: %v", client.ID, err)
		m.Terminate(client)
		return
	}

	if m.messageHandler == nil {
		return
	}
	if err := m.messageHandler.HandleClientMessage(client, msg); err != nil {
		log.Printf("[WebSocket] client %s desynchronized: %v", client.ID, err)
		m.Terminate(client)
	}
}

// Terminate sends the terminal out_of_sync message and disconnects the
// client. No recovery is attempted; the client is expected to reload.
func (m *Manager) Terminate(client *Client) {
	if data, err := encodeOutOfSync(); err == nil {
		select {
		case client.Send <- data:
		default:
		}
	}
	m.Unregister <- client
}

func encodeOutOfSync() ([]byte, error) {
	msg, err := protocol.NewMessage(protocol.KindOutOfSync, nil)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(msg)
}

// SendToClient enqueues data for one client. A frame sent this way is
// usually an ack; dropping it would strand the sender mid-protocol, so
// a full buffer closes the connection like a stale broadcast target.
func (m *Manager) SendToClient(clientID string, data []byte) {
	m.clientsMutex.RLock()
	client, exists := m.clients[clientID]
	var stale *Client
	if exists {
		select {
		case client.Send <- data:
		default:
			stale = client
		}
	}
	m.clientsMutex.RUnlock()

	if stale != nil {
		log.Printf("[WebSocket] client %s send buffer full, closing connection", clientID)
		m.Unregister <- stale
	}
}

// BroadcastToDocument fans data out to every client editing docID
// except excludeID. The payload is already encoded by the caller, so no
// document lock is held while slow writers drain.
func (m *Manager) BroadcastToDocument(docID string, data []byte, excludeID string) {
	m.clientsMutex.RLock()
	var stale []*Client
	for clientID := range m.docIndex[docID] {
		if clientID == excludeID {
			continue
		}
		client := m.clients[clientID]
		select {
		case client.Send <- data:
		default:
			log.Printf("[WebSocket] client %s send buffer full, closing connection", clientID)
			stale = append(stale, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range stale {
		m.Unregister <- client
	}
}

func (m *Manager) DocumentConnections(docID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.docIndex[docID])
}
