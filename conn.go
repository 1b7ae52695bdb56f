package redisom

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Conn is the wire client the core consumes. It embeds the full
// redis.Cmdable rather than a hand-picked subset: spec.md §6.1's command
// surface (HGETALL/HSET/DEL/EXISTS/SCAN/SADD/SISMEMBER, plus FT.*/JSON.*
// through Do) already spans most of Cmdable, and go-redis does not expose
// those as a smaller named interface to embed instead. It is satisfied by
// *redis.Client and *redis.ClusterClient directly; a test double would have
// to implement the same full method set, which is why this module's own
// tests exercise Conn-driven behavior against a real redis-stack container
// (integration_test.go) rather than a hand-rolled fake.
type Conn interface {
	redis.Cmdable

	// Pipeline returns a pipeline handle for batched writes (spec.md §5,
	// "Pipelining ... accepting a caller-provided pipeline handle").
	Pipeline() redis.Pipeliner
}

// Pipe is the subset of redis.Pipeliner used by Repository.SaveWithPipe /
// DeleteWithPipe. It is declared separately from Conn so callers can pass
// either a *redis.Pipeline or a *redis.Tx-derived pipeliner.
type Pipe interface {
	redis.Cmdable
}

var (
	_ Conn = (*redis.Client)(nil)
	_ Pipe = (*redis.Pipeline)(nil)
)

// dbOf extracts the selected logical database number from a *redis.Client's
// options, so index operations can enforce spec.md §6.2's "only database 0
// is valid for indexing" rule. Only *redis.Client carries this; other Conn
// implementations (mocks, cluster clients) are assumed to be pre-validated
// by the caller and are treated as database 0.
func dbOf(c Conn) int {
	if rc, ok := c.(*redis.Client); ok {
		return rc.Options().DB
	}
	return 0
}

// requireDB0 enforces spec.md §6.2: index operations (FT.CREATE, FT.DROPINDEX,
// schema/data migrations) refuse to run against a connection selecting a
// database other than 0.
func requireDB0(c Conn) error {
	if db := dbOf(c); db != 0 {
		return &DatabaseNumberError{DB: db}
	}
	return nil
}

// ping is a thin connectivity probe that wraps a PING failure as a
// ConnectionError. No command or method in this module calls it.
func ping(ctx context.Context, c Conn) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return &ConnectionError{Op: "PING", Err: err}
	}
	return nil
}
