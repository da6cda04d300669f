package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	marketdata "rulebot/internal/domain/entity/marketdata"
)

// Publisher emits indicator snapshots to the topic exchange with the pair
// as routing key. Used by the snapshot producer and the backfill loader.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishSnapshot(ctx context.Context, tick *marketdata.Tick) error {
	body, err := json.Marshal(SnapshotMessage{Tick: *tick})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, tick.Pair, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
