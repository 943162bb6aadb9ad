/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/posedge/pkg/events"
)

const (
	streamQueueSize = 64
	pingInterval    = 30 * time.Second
	writeWait       = 10 * time.Second
	readWait        = 2 * pingInterval
)

// StreamMessage is one frame on the event stream.
type StreamMessage struct {
	Type      string        `json:"type"`
	Event     *events.Event `json:"event,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// handleEvents streams bus events over a websocket. An optional "types"
// query parameter (comma separated) filters the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, "event stream is not available", http.StatusServiceUnavailable)
		return
	}

	var types []events.Type

	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.Type(t))
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkWebSocketOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	queue := make(chan events.Event, streamQueueSize)

	unsubscribe := s.deps.Events.Subscribe("ws:"+r.RemoteAddr, func(e events.Event) {
		select {
		case queue <- e:
		default:
			s.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("WebSocket client too slow, dropping event")
		}
	}, types...)
	defer unsubscribe()

	go s.readClient(conn, cancel)

	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Event stream opened")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var msg StreamMessage

		select {
		case <-ctx.Done():
			s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Event stream closed")
			return
		case e := <-queue:
			msg = StreamMessage{Type: "event", Event: &e, Timestamp: time.Now()}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Event stream write failed")
			return
		}
	}
}

// readClient drains client frames so close and pong control frames are
// processed, and cancels the stream once the client goes away.
func (s *Server) readClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readWait))
	}
}

func (s *Server) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}

	s.logger.Warn().
		Str("origin", origin).
		Strs("allowed_origins", s.cfg.AllowedOrigins).
		Msg("WebSocket origin not allowed")

	return false
}
