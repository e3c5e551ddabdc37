package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/account-service/internal/observability"
	"github.com/iliyamo/account-service/internal/storage"
)

// AvatarSetter records the public URL of a user's avatar.
type AvatarSetter interface {
	SetAvatar(ctx context.Context, userID, avatar string) error
}

// CacheFlusher drops cached avatar responses of a user.
type CacheFlusher interface {
	Flush(ctx context.Context, userID string) (int64, error)
}

// AvatarProcessor handles one AvatarJob.
type AvatarProcessor struct {
	Store   storage.ObjectStore
	Users   AvatarSetter
	Cache   CacheFlusher
	Log     logrus.FieldLogger
	Metrics *observability.Metrics
}

// Handle uploads the file, updates the user and drops stale cache entries.
// The local file is removed only after a successful upload.
func (p *AvatarProcessor) Handle(ctx context.Context, body []byte) error {
	var job AvatarJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if job.UserID == "" || job.FileID == "" || job.Path == "" {
		return errors.New("incomplete avatar job")
	}

	f, err := os.Open(job.Path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	err = p.Store.PutObject(ctx, job.ObjectKey(), f, job.Mime)
	_ = f.Close()
	if err != nil {
		return err
	}

	if err := p.Users.SetAvatar(ctx, job.UserID, job.AvatarURL); err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	if p.Cache != nil {
		if _, err := p.Cache.Flush(ctx, job.UserID); err != nil {
			p.Log.WithError(err).WithField("user_id", job.UserID).Warn("avatar-consumer: cache flush failed")
		}
	}
	if err := os.Remove(job.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.Log.WithError(err).WithField("path", job.Path).Warn("avatar-consumer: temp file not removed")
	}
	p.Log.WithFields(logrus.Fields{"user_id": job.UserID, "file_id": job.FileID}).Info("avatar-consumer: stored")
	return nil
}

// StartAvatarConsumer consumes the avatar queue until ctx is cancelled,
// reconnecting with exponential backoff. Messages that fail are rejected
// without requeue so a poison message cannot spin the worker.
func StartAvatarConsumer(ctx context.Context, url string, p *AvatarProcessor) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			p.Log.WithError(err).Warnf("avatar-consumer: dial failed, retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, p)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		p.Log.WithError(err).Warn("avatar-consumer: consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, p *AvatarProcessor) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		p.Log.WithError(err).Warn("avatar-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(AvatarQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(AvatarQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := p.Handle(ctx, d.Body); err != nil {
				p.Log.WithError(err).Error("avatar-consumer: job failed")
				p.Metrics.AvatarJob("failed")
				_ = d.Nack(false, false)
				continue
			}
			p.Metrics.AvatarJob("stored")
			_ = d.Ack(false)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
