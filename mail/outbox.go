package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultOutboxStream is the stream a delivery worker consumes.
const DefaultOutboxStream = "mail:outbox"

// Outbox appends messages to a Redis stream. The stream is trimmed
// approximately to maxLen entries; zero disables trimming.
type Outbox struct {
	redis  redis.UniversalClient
	stream string
	maxLen int64
}

func NewOutbox(client redis.UniversalClient, stream string, maxLen int64) *Outbox {
	if stream == "" {
		stream = DefaultOutboxStream
	}
	return &Outbox{redis: client, stream: stream, maxLen: maxLen}
}

func (o *Outbox) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return fmt.Errorf("mail: encode data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: o.stream,
		Values: map[string]interface{}{
			"id":       msg.ID,
			"to":       msg.To,
			"subject":  msg.Subject,
			"template": msg.Template,
			"data":     string(data),
		},
	}
	if o.maxLen > 0 {
		args.MaxLen = o.maxLen
		args.Approx = true
	}
	if err := o.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("mail: outbox append: %w", err)
	}
	return nil
}
