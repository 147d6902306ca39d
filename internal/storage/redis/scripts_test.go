package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestUpsertActiveSessionScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	sessionKey := "patrol:active:g1:u1"
	activeSet := "patrol:active"

	err := client.Eval(ctx, upsertActiveSessionScript, []string{sessionKey, activeSet},
		"g1", "u1", "c1", "2024-01-31T23:59:00Z").Err()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}

	data, err := client.HGetAll(ctx, sessionKey).Result()
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if data["channel_id"] != "c1" {
		t.Errorf("Expected channel_id c1, got %q", data["channel_id"])
	}
	if data["started_at"] != "2024-01-31T23:59:00Z" {
		t.Errorf("Expected started_at to be stored verbatim, got %q", data["started_at"])
	}

	isMember, err := client.SIsMember(ctx, activeSet, "g1:u1").Result()
	if err != nil {
		t.Fatalf("SIsMember failed: %v", err)
	}
	if !isMember {
		t.Error("Expected g1:u1 in active index")
	}
}

func TestDeleteActiveSessionScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	sessionKey := "patrol:active:g1:u1"
	activeSet := "patrol:active"

	client.HSet(ctx, sessionKey, "guild_id", "g1", "user_id", "u1")
	client.SAdd(ctx, activeSet, "g1:u1")

	tests := []struct {
		name        string
		wantDeleted int64
	}{
		{name: "existing record", wantDeleted: 1},
		{name: "missing record", wantDeleted: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deleted, err := client.Eval(ctx, deleteActiveSessionScript, []string{sessionKey, activeSet}, "g1:u1").Int64()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("Expected %d deleted, got %d", tt.wantDeleted, deleted)
			}

			if n := client.Exists(ctx, sessionKey).Val(); n != 0 {
				t.Error("Expected session key to be removed")
			}
			if client.SIsMember(ctx, activeSet, "g1:u1").Val() {
				t.Error("Expected index entry to be removed")
			}
		})
	}
}

func TestAccrueScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	keys := []string{
		"patrol:totals:g1",
		"patrol:channel:g1:c1",
		"patrol:monthly:g1:2024-01",
		"patrol:monthly:g1:2024-02",
	}

	for i := 0; i < 2; i++ {
		err := client.Eval(ctx, accrueScript, keys, "u1", 120000, 60000, 60000).Err()
		if err != nil {
			t.Fatalf("Script execution failed: %v", err)
		}
	}

	want := map[string]float64{
		"patrol:totals:g1":          240000,
		"patrol:channel:g1:c1":      240000,
		"patrol:monthly:g1:2024-01": 120000,
		"patrol:monthly:g1:2024-02": 120000,
	}
	for key, expected := range want {
		score, err := client.ZScore(ctx, key, "u1").Result()
		if err != nil {
			t.Fatalf("ZScore %s failed: %v", key, err)
		}
		if score != expected {
			t.Errorf("%s: expected %v, got %v", key, expected, score)
		}
	}
}

func TestAdjustScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	keys := []string{"patrol:totals:g1", "patrol:monthly:g1:2024-03"}
	client.ZAdd(ctx, keys[0], redis.Z{Score: 5000, Member: "u1"})
	client.ZAdd(ctx, keys[1], redis.Z{Score: 1000, Member: "u1"})

	tests := []struct {
		name        string
		delta       int64
		wantTotal   float64
		wantMonthly float64
	}{
		{name: "credit", delta: 2000, wantTotal: 7000, wantMonthly: 3000},
		{name: "debit", delta: -2500, wantTotal: 4500, wantMonthly: 500},
		{name: "debit floors at zero", delta: -10000, wantTotal: 0, wantMonthly: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Eval(ctx, adjustScript, keys, "u1", tt.delta).Err(); err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}

			if got := client.ZScore(ctx, keys[0], "u1").Val(); got != tt.wantTotal {
				t.Errorf("Expected total %v, got %v", tt.wantTotal, got)
			}
			if got := client.ZScore(ctx, keys[1], "u1").Val(); got != tt.wantMonthly {
				t.Errorf("Expected monthly %v, got %v", tt.wantMonthly, got)
			}
		})
	}
}
