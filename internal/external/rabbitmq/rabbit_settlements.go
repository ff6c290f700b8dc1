package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

// SettlementConsumer - запросы терминалов на проведение и подтверждения
type SettlementConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	Msg      <-chan amqp.Delivery
	chout    *amqp.Channel
	queueout string
}

func NewSettlementConsumer(url string, queue string, queueout string, prefetch int) (rabbit *SettlementConsumer, err error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq dial")
	}
	// канал для входящих
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	// не больше prefetch неподтвержденных сообщений
	err = ch.Qos(prefetch, 0, false)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// канал для исходящих
	chout, err := conn.Channel()
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	_, err = chout.QueueDeclare(
		queueout, // name
		true,     // durable
		false,    // delete when unused
		false,    // exclusive
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		chout.Close()
		ch.Close()
		conn.Close()
		return nil, err
	}

	msg, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		chout.Close()
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &SettlementConsumer{conn, ch, msg, chout, queueout}, nil
}

func (r *SettlementConsumer) Close() {
	r.chout.Close()
	r.ch.Close()
	r.conn.Close()
}

// Подтверждение проведения для терминала
type SettlementConfirm struct {
	SettlementID   string          `json:"settlement_id"`
	Success        bool            `json:"success"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Discount       decimal.Decimal `json:"discount"`
	PointsEarned   int64           `json:"points_earned"`
	PointsRedeemed int64           `json:"points_redeemed"`
	BalanceAfter   int64           `json:"balance_after"`
	Error          string          `json:"error,omitempty"`
	Retry          bool            `json:"retry"` // ошибка не пользователя, запрос можно повторить
}

func DecodeRequest(body []byte) (req models.SettleRequest, err error) {
	err = json.Unmarshal(body, &req)
	if err != nil {
		return req, errors.Wrap(models.ErrInvalidPurchase, err.Error())
	}
	return req, nil
}

func NewConfirm(settlementId string, receipt models.Receipt, err error) SettlementConfirm {
	if err != nil {
		msg := "internal error"
		if models.IsUserError(err) || errors.IsAny(err, models.ErrRuleNotConfigured, models.ErrNegativeFinalAmount) {
			msg = err.Error()
		}
		return SettlementConfirm{
			SettlementID: settlementId,
			Error:        msg,
			Retry:        errors.IsAny(err, models.ErrPersistence, models.ErrLedgerWriteConflict),
		}
	}
	return SettlementConfirm{
		SettlementID:   settlementId,
		Success:        true,
		TransactionID:  receipt.TransactionID.String(),
		FinalAmount:    receipt.Settlement.FinalAmount,
		Discount:       receipt.Settlement.Discount,
		PointsEarned:   receipt.Settlement.PointsEarned,
		PointsRedeemed: receipt.Settlement.PointsRedeemed,
		BalanceAfter:   receipt.Settlement.BalanceAfter,
	}
}

// подтверждение проведения
func (r *SettlementConsumer) Processed(ctx context.Context, confirm SettlementConfirm) error {
	msg, err := json.Marshal(confirm)
	if err != nil {
		return err
	}

	return r.chout.PublishWithContext(ctx,
		"",         // exchange
		r.queueout, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: confirm.SettlementID,
			Body:          msg,
		})
}
