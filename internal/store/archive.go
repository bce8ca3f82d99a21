package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/llm"
)

// archiveTTL bounds how long a conversation log is kept.
const archiveTTL = 7 * 24 * time.Hour

// Archive persists finished exchanges to Redis. A nil Archive is a no-op, so
// the feature is optional end to end.
type Archive struct {
	client *redis.Client
}

// NewArchive connects to Redis at url. Empty url returns a nil archive.
func NewArchive(url string) (*Archive, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("archive: parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return &Archive{client: client}, nil
}

func key(sessionID string) string { return "voice:conversation:" + sessionID }

// Append records messages under the session's conversation log. Failures are
// logged and swallowed; archival must never affect the conversation.
func (a *Archive) Append(ctx context.Context, sessionID string, msgs ...llm.Message) {
	if a == nil || a.client == nil || len(msgs) == 0 {
		return
	}
	vals := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		vals = append(vals, b)
	}
	pipe := a.client.Pipeline()
	pipe.RPush(ctx, key(sessionID), vals...)
	pipe.Expire(ctx, key(sessionID), archiveTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("archive: append failed")
	}
}

// Close releases the Redis connection.
func (a *Archive) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}
