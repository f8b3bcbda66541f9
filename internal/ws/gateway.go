package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame: an event name plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Gateway routes events to WebSocket clients by client id. Emitting to
// an unknown id is a silent drop; the client may already be gone.
type Gateway struct {
	mu      sync.RWMutex
	clients map[string]*Client

	onMessage    func(clientID string, env *Envelope)
	onDisconnect func(clientID string)
}

// NewGateway creates an empty Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		clients: make(map[string]*Client),
	}
}

// SetOnMessage sets the callback for inbound envelopes.
func (g *Gateway) SetOnMessage(callback func(clientID string, env *Envelope)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onMessage = callback
}

// SetOnDisconnect sets the callback fired after a client's read pump
// exits and the client is unregistered.
func (g *Gateway) SetOnDisconnect(callback func(clientID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDisconnect = callback
}

// Register adds a client. A previous client under the same id is
// closed and replaced.
func (g *Gateway) Register(client *Client) {
	g.mu.Lock()
	previous := g.clients[client.id]
	g.clients[client.id] = client
	g.mu.Unlock()

	if previous != nil && previous != client {
		previous.Close()
	}
}

// Unregister removes the client if it is still the one registered
// under its id, closes it, and fires the disconnect callback.
func (g *Gateway) Unregister(client *Client) {
	g.mu.Lock()
	current, ok := g.clients[client.id]
	if ok && current == client {
		delete(g.clients, client.id)
	} else {
		ok = false
	}
	onDisconnect := g.onDisconnect
	g.mu.Unlock()

	client.Close()

	if ok && onDisconnect != nil {
		onDisconnect(client.id)
	}
}

// Get returns the client registered under the id.
func (g *Gateway) Get(clientID string) (*Client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	client, ok := g.clients[clientID]
	return client, ok
}

// ClientCount returns the number of registered clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Emit sends one event to one client's room. Marshal failures are
// logged and dropped; routing must never take down an emitter.
func (g *Gateway) Emit(event string, payload interface{}, clientID string) {
	client, ok := g.Get(clientID)
	if !ok {
		return
	}

	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", event, err)
		return
	}
	client.Send(frame)
}

// Broadcast sends one event to every registered client.
func (g *Gateway) Broadcast(event string, payload interface{}) {
	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", event, err)
		return
	}

	g.mu.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for _, client := range g.clients {
		clients = append(clients, client)
	}
	g.mu.RUnlock()

	for _, client := range clients {
		client.Send(frame)
	}
}

func marshalEnvelope(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// handleMessage dispatches one inbound envelope.
func (g *Gateway) handleMessage(client *Client, env *Envelope) {
	g.mu.RLock()
	callback := g.onMessage
	g.mu.RUnlock()

	if callback != nil {
		callback(client.id, env)
	}
}

// Serve runs the read and write pumps for a registered client. The
// write pump runs in its own goroutine; Serve returns when the read
// pump exits and the client has been unregistered.
func (g *Gateway) Serve(client *Client) {
	go g.writePump(client)
	g.readPump(client)
}

// readPump pumps envelopes from the connection into the dispatcher.
func (g *Gateway) readPump(client *Client) {
	defer func() {
		g.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Failed to unmarshal envelope: %v", err)
			continue
		}

		g.handleMessage(client, &env)
	}
}

// writePump pumps queued frames to the connection, each in its own
// text frame, and keeps the connection alive with pings.
func (g *Gateway) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes every registered client.
func (g *Gateway) Close() {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for _, client := range g.clients {
		clients = append(clients, client)
	}
	g.clients = make(map[string]*Client)
	g.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
