package l2cache

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeCmdable is a minimal in-memory stand-in for the handful of
// redis.Cmdable methods this package calls.
type fakeCmdable struct {
	data    map[string][]byte
	pingErr error
	getErr  error
	setErr  error
}

func newFakeCmdable() *fakeCmdable {
	return &fakeCmdable{data: make(map[string][]byte)}
}

func (f *fakeCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	v, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(string(v))
	return cmd
}

func (f *fakeCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.pingErr != nil {
		cmd.SetErr(f.pingErr)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeCmdable) DBSize(ctx context.Context) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.data)))
	return cmd
}

func TestGetMissWhenKeyAbsent(t *testing.T) {
	c := newFakeCmdable()
	r := &Redis{client: c, prefix: "swiftdns:", timeout: time.Second}

	_, ok := r.Get(context.Background(), "example.com")
	if ok {
		t.Error("expected miss on empty store")
	}
}

func TestSetAsyncThenGetHits(t *testing.T) {
	c := newFakeCmdable()
	r := &Redis{client: c, prefix: "swiftdns:", timeout: time.Second}

	r.SetAsync("example.com", netip.MustParseAddr("203.0.113.5"), time.Minute)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.data["swiftdns:example.com"]; ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ip, ok := r.Get(context.Background(), "example.com")
	if !ok || ip.String() != "203.0.113.5" {
		t.Fatalf("got %v, %v", ip, ok)
	}
}

func TestSetAsyncZeroTTLNoop(t *testing.T) {
	c := newFakeCmdable()
	r := &Redis{client: c, prefix: "swiftdns:", timeout: time.Second}

	r.SetAsync("example.com", netip.MustParseAddr("203.0.113.5"), 0)
	time.Sleep(10 * time.Millisecond)
	if len(c.data) != 0 {
		t.Error("expected no write for zero TTL")
	}
}

func TestGetDisablesOnNonNilError(t *testing.T) {
	c := newFakeCmdable()
	c.getErr = context.DeadlineExceeded
	c.pingErr = context.DeadlineExceeded
	r := &Redis{client: c, prefix: "swiftdns:", timeout: time.Second}

	if _, ok := r.Get(context.Background(), "example.com"); ok {
		t.Error("expected miss on error")
	}
	if !r.isDisabled() {
		t.Error("expected circuit to open after a non-Nil error")
	}
}
