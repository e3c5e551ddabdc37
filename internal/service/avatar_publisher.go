package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/account-service/internal/queue"
)

// AvatarPublisher publishes avatar jobs to RabbitMQ. Each call dials its
// own connection; uploads are rare enough that pooling is not worth it.
type AvatarPublisher struct {
	URL string
}

func NewAvatarPublisher(url string) *AvatarPublisher { return &AvatarPublisher{URL: url} }

// Publish sends job to the avatar queue as a persistent JSON message.
func (p *AvatarPublisher) Publish(ctx context.Context, job queue.AvatarJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal avatar job: %w", err)
	}

	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue.AvatarQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	return ch.PublishWithContext(ctx, "", queue.AvatarQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
