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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

const (
	defaultStream         = "POSEDGE_EVENTS"
	defaultSubjectPrefix  = "posedge.events"
	defaultSource         = "posedge"
	defaultPublishTimeout = 5 * time.Second
	cloudEventTypePrefix  = "com.carverauto.posedge."
)

// ForwarderConfig configures CloudEvents forwarding to JetStream.
type ForwarderConfig struct {
	URL            string          `json:"url"`
	Stream         string          `json:"stream"`
	SubjectPrefix  string          `json:"subject_prefix"`
	Source         string          `json:"source"`
	PublishTimeout models.Duration `json:"publish_timeout"`
}

func (c *ForwarderConfig) withDefaults() ForwarderConfig {
	out := *c

	if out.Stream == "" {
		out.Stream = defaultStream
	}

	if out.SubjectPrefix == "" {
		out.SubjectPrefix = defaultSubjectPrefix
	}

	if out.Source == "" {
		out.Source = defaultSource
	}

	if out.PublishTimeout <= 0 {
		out.PublishTimeout = models.Duration(defaultPublishTimeout)
	}

	return out
}

// NATSForwarder republishes bus events as CloudEvents on JetStream
// subjects "<prefix>.<event type>".
type NATSForwarder struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	cfg    ForwarderConfig
	logger logger.Logger

	unsubscribe func()
}

// ConnectForwarder dials NATS, ensures the stream exists and returns a
// forwarder that owns the connection.
func ConnectForwarder(ctx context.Context, cfg *ForwarderConfig, log logger.Logger, opts ...nats.Option) (*NATSForwarder, error) {
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	f := NewForwarder(js, cfg, log)
	f.nc = nc

	if err := f.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	return f, nil
}

// NewForwarder wraps an existing JetStream context.
func NewForwarder(js jetstream.JetStream, cfg *ForwarderConfig, log logger.Logger) *NATSForwarder {
	return &NATSForwarder{
		js:     js,
		cfg:    cfg.withDefaults(),
		logger: log,
	}
}

// EnsureStream creates the stream, or widens its subjects, so that every
// forwarded subject is captured.
func (f *NATSForwarder) EnsureStream(ctx context.Context) error {
	wildcard := f.cfg.SubjectPrefix + ".>"

	var subjects []string

	stream, err := f.js.Stream(ctx, f.cfg.Stream)
	if err == nil {
		info, infoErr := stream.Info(ctx)
		if infoErr != nil {
			return fmt.Errorf("failed to read stream %s: %w", f.cfg.Stream, infoErr)
		}

		subjects = info.Config.Subjects
		if len(ensureSubjectList(append([]string(nil), subjects...), wildcard)) == len(subjects) {
			return nil
		}
	}

	_, err = f.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     f.cfg.Stream,
		Subjects: ensureSubjectList(subjects, wildcard),
	})
	if err != nil {
		return fmt.Errorf("failed to create or get stream %s: %w", f.cfg.Stream, err)
	}

	f.logger.Info().Str("stream", f.cfg.Stream).Str("subject", wildcard).Msg("JetStream stream ready")

	return nil
}

// Subject is the JetStream subject an event type is published on.
func (f *NATSForwarder) Subject(t Type) string {
	return f.cfg.SubjectPrefix + "." + string(t)
}

// Forward publishes e as a CloudEvent and waits for the stream ack.
func (f *NATSForwarder) Forward(ctx context.Context, e Event) error {
	ts := e.Time

	ce := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              e.ID,
		Source:          f.cfg.Source + "/" + e.Source,
		Type:            cloudEventTypePrefix + string(e.Type),
		DataContentType: "application/json",
		Subject:         f.Subject(e.Type),
		Time:            &ts,
		Data:            e.Data,
	}

	payload, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}

	ack, err := f.js.Publish(ctx, ce.Subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}

	f.logger.Debug().
		Str("event_id", e.ID).
		Str("subject", ce.Subject).
		Uint64("seq", ack.Sequence).
		Msg("Forwarded event")

	return nil
}

// Attach subscribes the forwarder to every event on bus.
func (f *NATSForwarder) Attach(bus *Bus) {
	f.unsubscribe = bus.Subscribe("nats-forwarder", func(e Event) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(f.cfg.PublishTimeout))
		defer cancel()

		if err := f.Forward(ctx, e); err != nil {
			f.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to forward event")
		}
	})
}

// Close detaches from the bus and closes an owned connection.
func (f *NATSForwarder) Close() {
	if f.unsubscribe != nil {
		f.unsubscribe()
	}

	if f.nc != nil {
		f.nc.Close()
	}
}

// ensureSubjectList appends subject unless an existing pattern covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject applies NATS wildcard rules: "*" matches one token and a
// trailing ">" matches one or more.
func matchesSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if p != "*" && p != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}
