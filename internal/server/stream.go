package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const wsWriteTimeout = 10 * time.Second

// streamHandler attaches a websocket to the broadcast hub. The subscription
// delivers a state snapshot first, then live round events; inbound messages
// carry bet/cashout commands like the HTTP endpoints.
func (s *FiberServer) streamHandler(conn *websocket.Conn) {
	pid := conn.Query("player_id", "anonymous")
	log.Printf("[WS] New connection from player: %s", pid)

	sub := s.engine.Subscribe(pid)
	defer sub.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// Pump hub events to the socket. The hub prunes us if we fall behind;
	// the closed channel ends the pump.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events() {
			if err := write(ev); err != nil {
				log.Printf("[WS] Write error for player %s: %v", pid, err)
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Player %s disconnected: %v", pid, err)
			break
		}

		var msg struct {
			Type        string  `json:"type"`
			Amount      float64 `json:"amount"`
			AutoCashout float64 `json:"auto_cashout"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "place_bet":
			receipt, err := s.engine.PlaceBet(context.Background(), pid, msg.Amount, msg.AutoCashout)
			if err != nil {
				write(map[string]string{"type": "error", "error": err.Error()})
				continue
			}
			write(map[string]interface{}{"type": "bet_accepted", "data": receipt})

		case "cashout":
			settlement, err := s.engine.Cashout(context.Background(), pid)
			if err != nil {
				write(map[string]string{"type": "error", "error": err.Error()})
				continue
			}
			write(map[string]interface{}{"type": "cashout_done", "data": settlement})

		case "ping":
			write(map[string]string{"type": "pong"})
		}
	}

	sub.Close()
	<-done
}
