// Package identity tracks agent presence. Online state is shared
// between console instances through Redis keys with a TTL: an agent is
// online while its key exists, and going offline is simply letting the
// key expire.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresenceTTL is how long an agent stays online after its last
	// heartbeat. Twice the heartbeat interval, so one lost heartbeat
	// does not flap presence.
	PresenceTTL = 60 * time.Second

	// HeartbeatInterval is how often Run refreshes the presence key.
	HeartbeatInterval = 30 * time.Second

	keyPrefix = "wainbox:presence:"
)

// Presence is the Redis-backed presence tracker.
type Presence struct {
	rdb *redis.Client
}

// NewPresence connects to Redis at addr.
func NewPresence(addr, password string, db int) *Presence {
	return &Presence{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewPresenceWithClient wraps an existing client. Used by tests.
func NewPresenceWithClient(rdb *redis.Client) *Presence {
	return &Presence{rdb: rdb}
}

// Close releases the Redis connection.
func (p *Presence) Close() error {
	return p.rdb.Close()
}

// Heartbeat marks the agent online for another PresenceTTL.
func (p *Presence) Heartbeat(ctx context.Context, agentID string) error {
	return p.rdb.Set(ctx, keyPrefix+agentID, "1", PresenceTTL).Err()
}

// Offline removes the agent's presence key immediately, for a clean
// sign-out instead of waiting out the TTL.
func (p *Presence) Offline(ctx context.Context, agentID string) error {
	return p.rdb.Del(ctx, keyPrefix+agentID).Err()
}

// Online reports whether the agent currently has a live presence key.
func (p *Presence) Online(ctx context.Context, agentID string) (bool, error) {
	n, err := p.rdb.Exists(ctx, keyPrefix+agentID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OnlineAgents returns the ids of all agents with a live presence key.
func (p *Presence) OnlineAgents(ctx context.Context) ([]string, error) {
	out := make([]string, 0)
	iter := p.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Run sends heartbeats for the agent until ctx is cancelled. The first
// heartbeat is sent immediately. Transient failures are logged and the
// loop keeps going; the TTL absorbs a missed beat.
func (p *Presence) Run(ctx context.Context, agentID string) {
	if err := p.Heartbeat(ctx, agentID); err != nil {
		slog.Warn("presence heartbeat failed", "agent", agentID, "error", err)
	}
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Heartbeat(ctx, agentID); err != nil && ctx.Err() == nil {
				slog.Warn("presence heartbeat failed", "agent", agentID, "error", err)
			}
		}
	}
}
