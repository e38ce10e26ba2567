package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/0x5487/tableorder"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

// ReadyNotification is the message body sent when an item of a table is completed.
type ReadyNotification struct {
	RecordID    string          `json:"record_id"`
	SeqID       uint64          `json:"seq_id"`
	TableNumber int             `json:"table"`
	ItemName    string          `json:"item"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	CompletedAt time.Time       `json:"completed_at"`
}

// BuildReadyNotification converts a Complete log into an AMQP message.
// ok is false for every other log type.
func BuildReadyNotification(log *tableorder.OrderBookLog) (msg amqp.Publishing, ok bool, err error) {
	if log.Type != tableorder.LogTypeComplete {
		return amqp.Publishing{}, false, nil
	}

	body, err := json.Marshal(ReadyNotification{
		RecordID:    log.RecordID,
		SeqID:       log.SequenceID,
		TableNumber: log.TableNumber,
		ItemName:    log.ItemName,
		Quantity:    log.Quantity,
		Amount:      log.Amount,
		CompletedAt: log.CreatedAt,
	})
	if err != nil {
		return amqp.Publishing{}, false, err
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    log.RecordID,
		Timestamp:    log.CreatedAt,
		Body:         body,
		Headers: amqp.Table{
			"x-source": "tableorder",
		},
	}, true, nil
}

// RoutingKey is the key completed items are published under.
func RoutingKey(table int) string {
	return fmt.Sprintf("ready.table.%d", table)
}

// AMQPPublishLog publishes completed items to a fanout exchange.
type AMQPPublishLog struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	timeout  time.Duration
}

// DialAMQP connects to url and declares exchange.
func DialAMQP(url, exchange string) (*AMQPPublishLog, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	p := NewAMQPPublishLog(ch, exchange)
	p.conn = conn
	if err := p.Declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// NewAMQPPublishLog wraps an open channel.
func NewAMQPPublishLog(ch *amqp.Channel, exchange string) *AMQPPublishLog {
	return &AMQPPublishLog{
		ch:       ch,
		exchange: exchange,
		timeout:  5 * time.Second,
	}
}

// Declare creates the durable fanout exchange if it does not exist.
func (p *AMQPPublishLog) Declare() error {
	return p.ch.ExchangeDeclare(p.exchange, "fanout", true, false, false, false, nil)
}

// Publish sends one message per Complete log. Failures are logged; other log types are skipped.
func (p *AMQPPublishLog) Publish(logs ...*tableorder.OrderBookLog) {
	for _, log := range logs {
		msg, ok, err := BuildReadyNotification(log)
		if err != nil {
			logger.Error("build ready notification failed", "seq_id", log.SequenceID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(log.TableNumber), false, false, msg)
		cancel()
		if err != nil {
			logger.Error("publish ready notification failed", "table", log.TableNumber, "item", log.ItemName, "error", err)
		}
	}
}

func (p *AMQPPublishLog) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
