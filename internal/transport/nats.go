// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

const (
	subjectEvents    = "events"
	subjectBroadcast = "broadcast"
	subjectHeartbeat = "heartbeat"

	metadataKind = "kind"
)

// EventSubject is the NATS subject carrying a room's change events.
func EventSubject(prefix string, roomID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.%s", prefix, roomID, subjectEvents)
}

func roomSubject(prefix string, roomID uuid.UUID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, roomID, kind)
}

// NATSConfig configures NATSTransport and NATSNotifier.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	EventBuffer    int
	ConnectTimeout time.Duration
}

func (c *NATSConfig) setDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "roomsync.rooms"
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

func newWatermillLogger(component string) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger(component))
}

// NATSTransport consumes room events from core NATS through Watermill.
// Each subscription owns its own connection and never reconnects on its
// own; the caller decides when to open a fresh one.
type NATSTransport struct {
	cfg    NATSConfig
	logger watermill.LoggerAdapter
}

// NewNATSTransport creates a transport. It does not connect.
func NewNATSTransport(cfg NATSConfig) *NATSTransport {
	cfg.setDefaults()
	return &NATSTransport{
		cfg:    cfg,
		logger: newWatermillLogger("transport.nats"),
	}
}

// Subscribe connects and subscribes to the room's event subject.
func (t *NATSTransport) Subscribe(ctx context.Context, topic string, filters []Filter, onStatus StatusFunc) (Subscription, error) {
	roomID := roomIDFromFilters(filters)
	if roomID == uuid.Nil {
		id, err := uuid.Parse(strings.TrimPrefix(topic, "room:"))
		if err != nil {
			return nil, fmt.Errorf("nats transport needs a room id: %w", err)
		}
		roomID = id
	}

	s := &natsSubscription{
		prefix:   t.cfg.SubjectPrefix,
		roomID:   roomID,
		events:   make(chan models.Event, t.cfg.EventBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		onStatus: onStatus,
		log:      logging.WithComponent("transport.nats").With().Str("topic", topic).Logger(),
	}

	connOpts := []natsgo.Option{
		natsgo.Name("roomsync " + topic),
		natsgo.NoReconnect(),
		natsgo.Timeout(t.cfg.ConnectTimeout),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			s.connectionLost(err)
		}),
		natsgo.ClosedHandler(func(_ *natsgo.Conn) {
			s.connectionLost(nil)
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              t.cfg.URL,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      connOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: t.cfg.URL,
		NatsOptions: []natsgo.Option{
			natsgo.Name("roomsync " + topic + " publisher"),
			natsgo.NoReconnect(),
			natsgo.Timeout(t.cfg.ConnectTimeout),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{Disabled: true},
	}, t.logger)
	if err != nil {
		s.markEnded()
		_ = sub.Close()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := sub.Subscribe(subCtx, EventSubject(s.prefix, roomID))
	if err != nil {
		cancel()
		s.markEnded()
		_ = sub.Close()
		_ = pub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", EventSubject(s.prefix, roomID), err)
	}

	s.subscriber = sub
	s.publisher = pub
	s.cancel = cancel

	go s.consume(messages)
	return s, nil
}

type natsSubscription struct {
	prefix string
	roomID uuid.UUID

	subscriber message.Subscriber
	publisher  message.Publisher
	cancel     context.CancelFunc

	events   chan models.Event
	closing  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	statusMu sync.Mutex
	ended    bool
	onStatus StatusFunc

	log zerolog.Logger
}

func (s *natsSubscription) Events() <-chan models.Event {
	return s.events
}

// Send publishes payload on the room's broadcast subject, or its heartbeat
// subject for a Heartbeat.
func (s *natsSubscription) Send(ctx context.Context, payload any) error {
	select {
	case <-s.closing:
		return ErrNotSubscribed
	case <-s.done:
		return ErrNotSubscribed
	default:
	}

	kind := subjectBroadcast
	switch payload.(type) {
	case Heartbeat, *Heartbeat:
		kind = subjectHeartbeat
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	return s.publisher.Publish(roomSubject(s.prefix, s.roomID, kind), msg)
}

// Unsubscribe closes both connections and waits for the consumer to stop.
func (s *natsSubscription) Unsubscribe() error {
	var errs []error
	s.stopOnce.Do(func() {
		s.markEnded()
		close(s.closing)
		s.cancel()
		if err := s.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	})
	<-s.done
	return errors.Join(errs...)
}

func (s *natsSubscription) markEnded() bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

func (s *natsSubscription) report(status Status, err error) {
	if status == StatusSubscribed {
		s.statusMu.Lock()
		ended := s.ended
		s.statusMu.Unlock()
		if ended {
			return
		}
	} else if !s.markEnded() {
		return
	}
	if s.onStatus != nil {
		s.onStatus(status, err)
	}
}

func (s *natsSubscription) connectionLost(err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("NATS connection lost")
	}
	s.report(StatusClosed, err)
}

func (s *natsSubscription) consume(messages <-chan *message.Message) {
	defer close(s.done)
	defer close(s.events)

	// Core NATS subscriptions are live as soon as Subscribe returns.
	s.report(StatusSubscribed, nil)

	for {
		select {
		case <-s.closing:
			return
		case msg, ok := <-messages:
			if !ok {
				s.report(StatusClosed, errors.New("subscription channel closed"))
				return
			}
			ev, err := decodeEvent(msg.Payload)
			msg.Ack()
			if err != nil {
				metrics.TransportEventsDropped.WithLabelValues("nats").Inc()
				s.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable event")
				continue
			}
			if ev.RoomID != s.roomID {
				continue
			}
			metrics.TransportEvents.WithLabelValues("nats", string(ev.Kind)).Inc()
			select {
			case s.events <- ev:
			case <-s.closing:
				return
			}
		}
	}
}

func decodeEvent(payload []byte) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !ev.Valid() {
		return models.Event{}, fmt.Errorf("invalid %q event", ev.Kind)
	}
	return ev, nil
}

// NATSNotifier publishes store change events to NATS so that NATSTransport
// subscribers receive them. It implements store.ChangeNotifier.
type NATSNotifier struct {
	publisher message.Publisher
	prefix    string
}

// NewNATSNotifier connects a publisher. Unlike subscriptions, the notifier's
// connection reconnects on its own.
func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	cfg.setDefaults()
	logger := newWatermillLogger("transport.notifier")

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: cfg.URL,
		NatsOptions: []natsgo.Option{
			natsgo.Name("roomsync notifier"),
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
			natsgo.Timeout(cfg.ConnectTimeout),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					logger.Error("Notifier disconnected", err, nil)
				}
			}),
			natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
				logger.Info("Notifier reconnected", watermill.LogFields{
					"url": nc.ConnectedUrl(),
				})
			}),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &NATSNotifier{publisher: pub, prefix: cfg.SubjectPrefix}, nil
}

// Notify publishes event on the room's event subject.
func (n *NATSNotifier) Notify(ctx context.Context, event models.Event) error {
	if !event.Valid() {
		return fmt.Errorf("refusing to publish invalid %q event", event.Kind)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set(metadataKind, string(event.Kind))
	return n.publisher.Publish(EventSubject(n.prefix, event.RoomID), msg)
}

// Close closes the publisher connection.
func (n *NATSNotifier) Close() error {
	return n.publisher.Close()
}
