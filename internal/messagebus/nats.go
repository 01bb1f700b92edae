// Package messagebus connects ensemble to NATS for result fan-out and for the
// request/reply transport used by rpc.NatsCaller.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/nats-io/nats.go"
)

// NatsMessageBus wraps a NATS connection.
type NatsMessageBus struct {
	conn   *nats.Conn
	prefix string
}

// Config holds NATS configuration
type Config struct {
	URL           string        // NATS server URL (e.g., "nats://nats:4222")
	Timeout       time.Duration // Connection timeout
	SubjectPrefix string        // Subject namespace (default: "ensemble")
}

// ResultsMessage is the body published for each finished job.
type ResultsMessage struct {
	JobID   string             `json:"job_id"`
	Results []models.JobResult `json:"results"`
}

// NewNatsMessageBus connects to NATS.
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "ensemble"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("ensemble"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[NATS] Reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Printf("[NATS] Connected to %s", cfg.URL)
	return &NatsMessageBus{conn: nc, prefix: cfg.SubjectPrefix}, nil
}

// Conn exposes the connection for request/reply callers.
func (mb *NatsMessageBus) Conn() *nats.Conn {
	return mb.conn
}

// ResultsSubject returns the subject results for jobID are published on.
func (mb *NatsMessageBus) ResultsSubject(jobID string) string {
	return fmt.Sprintf("%s.results.%s", mb.prefix, sanitizeToken(jobID))
}

// PublishResults publishes one message per job execution.
func (mb *NatsMessageBus) PublishResults(ctx context.Context, jobID string, results []models.JobResult) error {
	data, err := json.Marshal(ResultsMessage{JobID: jobID, Results: results})
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := mb.conn.Publish(mb.ResultsSubject(jobID), data); err != nil {
		return fmt.Errorf("failed to publish results: %w", err)
	}
	return nil
}

// SubscribeResults delivers results for every job.
func (mb *NatsMessageBus) SubscribeResults(handler func(*ResultsMessage)) (*nats.Subscription, error) {
	return mb.conn.Subscribe(mb.prefix+".results.*", func(msg *nats.Msg) {
		var rm ResultsMessage
		if err := json.Unmarshal(msg.Data, &rm); err != nil {
			log.Printf("[NATS] Dropping malformed results message on %s: %v", msg.Subject, err)
			return
		}
		handler(&rm)
	})
}

// Close drains and closes the connection.
func (mb *NatsMessageBus) Close() {
	if mb.conn == nil {
		return
	}
	if err := mb.conn.Drain(); err != nil {
		mb.conn.Close()
	}
}

// sanitizeToken makes s safe as a single NATS subject token.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
