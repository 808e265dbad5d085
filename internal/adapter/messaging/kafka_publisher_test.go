package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)
	p.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	outcome := domain.Authorized("tok-1", "O-9", decimal.NewFromInt(12990), "2024-05-01")
	require.NoError(t, p.Publish(context.Background(), "client-1", outcome))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "tok-1", string(w.msgs[0].Key))

	var ev OutcomeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "client-1", ev.ClientID)
	assert.Equal(t, "authorized", ev.Kind)
	assert.Equal(t, "O-9", ev.Order)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(12990)))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")})

	err := p.Publish(context.Background(), "client-1", domain.Aborted("tok-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tok-2")
}

func TestLogPublisher(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewLogPublisher(logger)

	require.NoError(t, p.Publish(context.Background(), "client-1", domain.Aborted("tok-3")))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "tok-3", entry.Data["token"])
}
