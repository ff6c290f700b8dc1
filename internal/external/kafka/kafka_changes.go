package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/segmentio/kafka-go"
)

// ChangeWriter - лента изменений транзакций (для отчетов)
type ChangeWriter struct {
	writer *kafka.Writer
}

func NewChangeWriter(brokers []string, topic string) *ChangeWriter {
	return &ChangeWriter{&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// ключ - клиент: события одного клиента в одной партиции
func eventMessage(event models.ChangeEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.CustomerID.String()),
		Value: value,
		Time:  event.At,
	}, nil
}

func (k *ChangeWriter) Publish(ctx context.Context, event models.ChangeEvent) error {
	msg, err := eventMessage(event)
	if err != nil {
		return errors.Wrap(err, "encode change event")
	}
	err = k.writer.WriteMessages(ctx, msg)
	if err != nil {
		return errors.Wrapf(err, "publish change event %s", event.TransactionID)
	}
	return nil
}

func (k *ChangeWriter) Close() error {
	return k.writer.Close()
}

type ChangeReader struct {
	reader *kafka.Reader
}

func GetNewReader(brokers []string, topic string, group string) *ChangeReader {
	kafkaconfig := kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	}
	return &ChangeReader{kafka.NewReader(kafkaconfig)}
}

func (k *ChangeReader) GetNewMessage(ctx context.Context) (event models.ChangeEvent, err error) {
	msg, err := k.reader.ReadMessage(ctx)
	if err != nil {
		return event, err
	}
	err = json.Unmarshal(msg.Value, &event)
	if err != nil {
		return event, errors.Wrapf(err, "decode change event at offset %d", msg.Offset)
	}
	return event, nil
}

func (k *ChangeReader) CloseReader() {
	k.reader.Close()
}
