package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const DefaultTopic = "checkout.completed"

// OutcomeEvent is the message value published for every final checkout outcome.
type OutcomeEvent struct {
	Token             string          `json:"token"`
	ClientID          string          `json:"client_id"`
	Kind              string          `json:"kind"`
	Order             string          `json:"order,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	ResponseCode      string          `json:"response_code,omitempty"`
	AuthorizationCode string          `json:"authorization_code,omitempty"`
	TransactionDate   string          `json:"transaction_date,omitempty"`
	PublishedAt       time.Time       `json:"published_at"`
}

func NewOutcomeEvent(clientID string, o domain.CommitOutcome, now time.Time) OutcomeEvent {
	return OutcomeEvent{
		Token:             o.Token,
		ClientID:          clientID,
		Kind:              string(o.Kind),
		Order:             o.Order,
		Amount:            o.Amount,
		ResponseCode:      o.ResponseCode,
		AuthorizationCode: o.AuthorizationCode,
		TransactionDate:   o.Timestamp,
		PublishedAt:       now.UTC(),
	}
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

var _ port.OutcomePublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(broker, topic string, log logrus.FieldLogger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Logger:       kafka.LoggerFunc(log.Debugf),
		ErrorLogger:  kafka.LoggerFunc(log.Errorf),
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, now: time.Now}
}

// Publish sends the outcome keyed by token, so every event of one attempt lands on one partition.
func (p *KafkaPublisher) Publish(ctx context.Context, clientID string, outcome domain.CommitOutcome) error {
	value, err := json.Marshal(NewOutcomeEvent(clientID, outcome, p.now()))
	if err != nil {
		return fmt.Errorf("encode outcome event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(outcome.Token),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish outcome %s: %w", outcome.Token, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes outcomes to the log. Used when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

var _ port.OutcomePublisher = (*LogPublisher)(nil)

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, clientID string, outcome domain.CommitOutcome) error {
	p.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"token":     outcome.Token,
		"kind":      outcome.Kind,
		"order":     outcome.Order,
	}).Info("checkout outcome")
	return nil
}
