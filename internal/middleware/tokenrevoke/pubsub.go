package tokenrevoke

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// revocationFanout publishes and subscribes to revocation events on a Redis
// channel so every gateway instance's bloom filter and cache observe a
// revocation issued against a single instance (§4.5 pub/sub fan-out).
//
// Line formats:
//
//	jti:<id>:<expiresAtMillis>
//	user:<id>:<issuedBeforeMillis>:<expiresAtMillis>
type revocationFanout struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func newRevocationFanout(client *redis.Client, channel string, logger *zap.Logger) *revocationFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &revocationFanout{client: client, channel: channel, logger: logger}
}

func (f *revocationFanout) publishJTI(jti string, expiresAt time.Time) {
	if f.client == nil {
		return
	}
	line := fmt.Sprintf("jti:%s:%d", jti, expiresAt.UnixMilli())
	if err := f.client.Publish(context.Background(), f.channel, line).Err(); err != nil {
		f.logger.Warn("revocation: publish failed", zap.Error(err))
	}
}

func (f *revocationFanout) publishUser(userID string, issuedBefore, expiresAt time.Time) {
	if f.client == nil {
		return
	}
	line := fmt.Sprintf("user:%s:%d:%d", userID, issuedBefore.UnixMilli(), expiresAt.UnixMilli())
	if err := f.client.Publish(context.Background(), f.channel, line).Err(); err != nil {
		f.logger.Warn("revocation: publish failed", zap.Error(err))
	}
}

// subscribe runs until ctx is cancelled, applying every fan-out message to tc.
func (f *revocationFanout) subscribe(ctx context.Context, tc *TokenChecker) {
	if f.client == nil {
		return
	}
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.apply(tc, msg.Payload)
		}
	}
}

func (f *revocationFanout) apply(tc *TokenChecker, payload string) {
	parts := strings.Split(payload, ":")
	if len(parts) < 3 {
		return
	}
	switch parts[0] {
	case "jti":
		expMs, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
		if err != nil {
			return
		}
		id := strings.Join(parts[1:len(parts)-1], ":")
		ttl := time.Until(time.UnixMilli(expMs))
		if ttl <= 0 {
			return
		}
		tc.applyLocalRevocation(id, ttl)
	case "user":
		if len(parts) < 4 {
			return
		}
		issuedBeforeMs, err1 := strconv.ParseInt(parts[len(parts)-2], 10, 64)
		expMs, err2 := strconv.ParseInt(parts[len(parts)-1], 10, 64)
		if err1 != nil || err2 != nil {
			return
		}
		userID := strings.Join(parts[1:len(parts)-2], ":")
		tc.applyLocalUserRevocation(userID, time.UnixMilli(issuedBeforeMs), time.UnixMilli(expMs))
	}
}
