package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisherSendsJSONEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var decoded Event
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if decoded.Type != TypePurchaseRecorded || decoded.Key != "item-1" {
			return errors.New("unexpected event body")
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "ledger-events")
	err := pub.Publish(context.Background(), Event{
		ID:         "evt-1",
		Type:       TypePurchaseRecorded,
		Key:        "item-1",
		DateKey:    "2024-05-01",
		OccurredAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Payload:    map[string]string{"quantity": "5"},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisherReturnsSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "ledger-events")
	err := pub.Publish(context.Background(), Event{ID: "evt-2", Type: TypeSaleRecorded})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestNopPublisher(t *testing.T) {
	var pub Publisher = NopPublisher{}
	assert.NoError(t, pub.Publish(context.Background(), Event{}))
	assert.NoError(t, pub.Close())
}
