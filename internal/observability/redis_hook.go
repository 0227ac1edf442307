package observability

import (
	"context"
	"errors"
	"net"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
)

// RedisSentryHook reports failed Redis commands. Cache misses are not errors.
type RedisSentryHook struct{}

var _ redis.Hook = (*RedisSentryHook)(nil)

func (RedisSentryHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			AddBreadcrumb(ctx, "redis", "dial failed: "+addr, sentry.LevelError)
		}
		return conn, err
	}
}

func (RedisSentryHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			CaptureException(ctx, err, map[string]string{"redis.command": cmd.Name()})
		}
		return err
	}
}

func (RedisSentryHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			CaptureException(ctx, err, map[string]string{"redis.command": "pipeline"})
		}
		return err
	}
}
