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

package events

import (
	"fmt"
	"sync"

	"github.com/carverauto/posedge/pkg/logger"
)

const defaultQueueSize = 64

// Handler receives events on its subscriber's goroutine.
type Handler func(e Event)

// Bus is an in-process publish/subscribe hub. Publish never blocks: each
// subscriber owns a buffered queue drained by its own goroutine, and an
// event that finds the queue full is dropped for that subscriber.
type Bus struct {
	logger    logger.Logger
	queueSize int

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	name    string
	types   map[Type]struct{}
	queue   chan Event
	done    chan struct{}
	handler Handler
}

// NewBus returns an empty Bus. queueSize <= 0 uses the default.
func NewBus(queueSize int, log logger.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Bus{
		logger:    log,
		queueSize: queueSize,
		subs:      make(map[uint64]*subscriber),
	}
}

// Subscribe registers handler for the given types, or for every type when
// none are given. The returned function unsubscribes and waits for the
// handler goroutine to finish.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) (unsubscribe func()) {
	s := &subscriber{
		name:    name,
		queue:   make(chan Event, b.queueSize),
		done:    make(chan struct{}),
		handler: handler,
	}

	if len(types) > 0 {
		s.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.done)

		return func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go b.drain(s)

	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.queue)
			}
			b.mu.Unlock()

			<-s.done
		})
	}
}

// Publish delivers e to every interested subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}

		select {
		case s.queue <- e:
		default:
			b.logger.Warn().
				Str("subscriber", s.name).
				Str("event_type", string(e.Type)).
				Msg("Subscriber queue full, dropping event")
		}
	}
}

// Close stops delivery and waits for every handler goroutine to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.closed = true

	subs := make([]*subscriber, 0, len(b.subs))
	for id, s := range b.subs {
		close(s.queue)
		subs = append(subs, s)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
}

func (s *subscriber) wants(t Type) bool {
	if s.types == nil {
		return true
	}

	_, ok := s.types[t]

	return ok
}

func (b *Bus) drain(s *subscriber) {
	defer close(s.done)

	for e := range s.queue {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s *subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("subscriber", s.name).
				Str("event_type", string(e.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("Event handler panicked")
		}
	}()

	s.handler(e)
}
