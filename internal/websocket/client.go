package websocket

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one live editor connection. It owns no document state, only
// the transport handle and its outbound queue. ResumeFrom is non-nil
// when the connection is a reconnect carrying a known last seen
// revision.
type Client struct {
	ID         string
	DocumentID string
	ResumeFrom *uint64
	Conn       *websocket.Conn
	Manager    *Manager
	Send       chan []byte
}

func NewClient(id, documentID string, resumeFrom *uint64, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:         id,
		DocumentID: documentID,
		ResumeFrom: resumeFrom,
		Conn:       conn,
		Manager:    manager,
		Send:       make(chan []byte, 256),
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Manager.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] read error: %v", err)
			}
			break
		}

		// The wire protocol is binary CBOR; anything else is noise.
		if messageType != websocket.BinaryMessage {
			log.Printf("[WebSocket] ignoring non-binary frame from client %s", c.ID)
			continue
		}

		c.Manager.dispatch(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
