package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestKVLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	if _, ok, err := client.Get(ctx, "cart.snapshot"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := client.Set(ctx, "cart.snapshot", `{"version":3}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok := mock.data["cs:kv:cart.snapshot"]; !ok {
		t.Fatalf("expected namespaced key, got %v", mock.data)
	}

	val, ok, err := client.Get(ctx, "cart.snapshot")
	if err != nil || !ok {
		t.Fatalf("get failed ok=%v err=%v", ok, err)
	}
	if val != `{"version":3}` {
		t.Fatalf("unexpected value %q", val)
	}

	if err := client.Set(ctx, "cart", "[]"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := client.Delete(ctx, "cart.snapshot", "cart"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(mock.data) != 0 {
		t.Fatalf("expected all keys deleted, got %v", mock.data)
	}
	if err := client.Delete(ctx); err != nil {
		t.Fatalf("empty delete should be a no-op: %v", err)
	}
}

func TestGetPropagatesErrors(t *testing.T) {
	mock := newMockCmdable()
	mock.getErr = errors.New("connection reset")
	client := &Client{store: mock}

	if _, _, err := client.Get(context.Background(), "access"); err == nil {
		t.Fatal("expected transport error to surface")
	}
}

func TestPublish(t *testing.T) {
	mock := newMockCmdable()
	client := &Client{store: mock}

	if err := client.Publish(context.Background(), "cartsync:events", "payload"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got := mock.published["cartsync:events"]; len(got) != 1 || got[0] != "payload" {
		t.Fatalf("unexpected published payloads %v", got)
	}
}

func TestIdempotentResponses(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.IdempotencyKey("POST|/api/v1/cart/products", "abc")
	if key != "cs:idem:POST|/api/v1/cart/products:abc" {
		t.Fatalf("unexpected idempotency key %s", key)
	}
	if _, ok, err := client.LoadResponse(ctx, key); err != nil || ok {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}

	claimed, err := client.ClaimResponse(ctx, key, "pending", time.Minute)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to win, got %v %v", claimed, err)
	}
	if mock.ttls[key] != time.Minute {
		t.Fatalf("expected ttl to be passed through, got %v", mock.ttls[key])
	}
	claimed, err = client.ClaimResponse(ctx, key, "second", time.Minute)
	if err != nil || claimed {
		t.Fatalf("expected second claim to lose, got %v %v", claimed, err)
	}

	if err := client.SaveResponse(ctx, key, "done", time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	val, ok, err := client.LoadResponse(ctx, key)
	if err != nil || !ok || val != "done" || mock.ttls[key] != time.Hour {
		t.Fatalf("unexpected record %q ok=%v err=%v ttl=%v", val, ok, err, mock.ttls[key])
	}

	if err := client.ReleaseResponse(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if claimed, _ := client.ClaimResponse(ctx, key, "again", time.Minute); !claimed {
		t.Fatalf("expected claim after release to win")
	}
}

func TestIncrWithTTL(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, "ip:session:1.2.3.4", time.Minute)
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected count %d got %d", want, got)
		}
	}
	if mock.ttls["cs:rl:ip:session:1.2.3.4"] != time.Minute {
		t.Fatalf("expected ttl on namespaced key, got %v", mock.ttls)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	if _, _, err := client.Get(ctx, "k"); err == nil {
		t.Fatal("expected error from nil store")
	}
	if err := client.Set(ctx, "k", "v"); err == nil {
		t.Fatal("expected error from nil store")
	}
	if _, _, err := client.Subscribe(ctx, "c"); err == nil {
		t.Fatal("expected error from nil subscriber")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil raw should be a no-op: %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.KVKey("cart.snapshot"); got != "cs:kv:cart.snapshot" {
		t.Fatalf("unexpected kv key %s", got)
	}
	if got := client.buildKey("kv", "", "x"); got != "cs:kv:x" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
	if got := client.buildKey(); got != "cs" {
		t.Fatalf("unexpected bare key %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6379" || opts.DB != 3 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

type mockCmdable struct {
	data      map[string]string
	published map[string][]string
	ttls      map[string]time.Duration
	counters  map[string]int64
	getErr    error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:      make(map[string]string),
		published: make(map[string][]string),
		ttls:      make(map[string]time.Duration),
		counters:  make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.counters[key]++
	return redis.NewIntResult(m.counters[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	m.published[channel] = append(m.published[channel], fmt.Sprint(message))
	return redis.NewIntResult(1, nil)
}
