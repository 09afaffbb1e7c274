package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dronesim/internal/config"
)

// redisCollections names the key families the service writes, reported as
// the datastore collection of each command.
var redisCollections = []struct {
	prefix string
	name   string
}{
	{"tracking:order:", "order_tracking"},
	{"drones:locations", "drone_locations"},
	{"lock:simulation:", "simulation_locks"},
	{"idempotency:", "idempotency"},
}

// NewRedisClient creates a new Redis client with optional New Relic instrumentation.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, nrApp *newrelic.Application) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if nrApp != nil {
		client.AddHook(&nrRedisHook{})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// nrRedisHook reports every command as a datastore segment of the
// transaction carried by its context, tagged with the key family it touches.
type nrRedisHook struct{}

func (h *nrRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *nrRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  strings.ToUpper(cmd.Name()),
				Collection: commandCollection(cmd),
			}
			defer segment.End()
		}
		return next(ctx, cmd)
	}
}

func (h *nrRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  "PIPELINE",
				Collection: pipelineCollection(cmds),
			}
			defer segment.End()
		}
		return next(ctx, cmds)
	}
}

// commandCollection maps the key of cmd to its key family. Scripts carry
// their first key after the script and key count.
func commandCollection(cmd redis.Cmder) string {
	args := cmd.Args()
	pos := 1
	switch strings.ToLower(cmd.Name()) {
	case "eval", "evalsha", "eval_ro", "evalsha_ro":
		pos = 3
	}
	if len(args) <= pos {
		return "redis"
	}
	key, ok := args[pos].(string)
	if !ok {
		return "redis"
	}
	for _, c := range redisCollections {
		if strings.HasPrefix(key, c.prefix) {
			return c.name
		}
	}
	return "redis"
}

// pipelineCollection is the shared key family of cmds, or "redis" when they
// touch more than one.
func pipelineCollection(cmds []redis.Cmder) string {
	if len(cmds) == 0 {
		return "redis"
	}
	name := commandCollection(cmds[0])
	for _, cmd := range cmds[1:] {
		if commandCollection(cmd) != name {
			return "redis"
		}
	}
	return name
}
