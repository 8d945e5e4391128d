package rpc

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is consumed by local indexers and tooling; cross-origin
	// browser clients are not a supported surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

type tipChangeJSON struct {
	Header   headerJSON `json:"header"`
	IsReorg  bool       `json:"isReorg"`
	Reverted []string   `json:"reverted,omitempty"`
}

// handleWebsocket upgrades the connection and pushes a message for every tip
// change until the client goes away. Subscription begins with a snapshot of
// the current tip so a client need not race a separate /tip fetch.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.chain.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := tipChangeJSON{Header: headerToJSON(s.chain.Tip())}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case tc, ok := <-events:
			if !ok {
				return
			}
			reverted := make([]string, len(tc.Reverted))
			for i, h := range tc.Reverted {
				reverted[i] = h.String()
			}
			msg := tipChangeJSON{Header: headerToJSON(tc.Header), IsReorg: tc.IsReorg, Reverted: reverted}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
