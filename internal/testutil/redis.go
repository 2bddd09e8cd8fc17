package testutil

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis connects to the test redis instance and returns a key
// prefix unique to this test. The test is skipped when redis is not
// reachable; keys under the prefix are removed on cleanup.
func SetupTestRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := net.JoinHostPort(envOr("TEST_REDIS_HOST", "127.0.0.1"), envOr("TEST_REDIS_PORT", "6379"))
	db, err := strconv.Atoi(envOr("TEST_REDIS_DB", "15"))
	if err != nil {
		t.Fatalf("TEST_REDIS_DB: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	prefix := "test:" + RandomString(8) + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = client.Close()
	})
	return client, prefix
}
