package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

func sampleDescriptors() []Descriptor {
	return []Descriptor{{
		Network:        "sonic",
		MarketID:       "8",
		Address:        vaultUSDC,
		CollateralType: Protected,
		Asset:          usdc,
		Name:           "USD Coin",
		Symbol:         "USDC.e",
		Decimals:       6,
		Source:         SourceFactory,
	}}
}

func TestMemoryStoreRoundTripCopies(t *testing.T) {
	store := NewMemoryStore()
	key := Key{Network: "Sonic", MarketID: "8"}
	in := sampleDescriptors()
	if err := store.Put(context.Background(), key, in); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	in[0].Symbol = "mutated"
	out, ok, err := store.Get(context.Background(), Key{Network: "sonic", MarketID: "8"})
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if out[0].Symbol != "USDC.e" {
		t.Fatalf("store must not alias caller slices, got %q", out[0].Symbol)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one entry, got %d", store.Len())
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "vaults.db")
	lockPath := filepath.Join(tmp, "vaults.lock")
	store, err := OpenSQLiteStore(path, lockPath)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	key := Key{Network: "sonic", MarketID: "8"}
	if _, ok, err := store.Get(context.Background(), key); err != nil || ok {
		t.Fatalf("expected miss on empty store, got ok=%v err=%v", ok, err)
	}
	if err := store.Put(context.Background(), key, sampleDescriptors()); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := OpenSQLiteStore(path, lockPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	out, ok, err := reopened.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("expected persisted hit, got ok=%v err=%v", ok, err)
	}
	if out[0].Address != vaultUSDC || out[0].CollateralType != Protected || out[0].Decimals != 6 {
		t.Fatalf("unexpected persisted descriptor %+v", out[0])
	}
}

func TestResolverUsesInjectedStore(t *testing.T) {
	f := newFixture(t)
	store := NewMemoryStore()
	key := Key{Network: "sonic", MarketID: "8"}
	if err := store.Put(context.Background(), key, sampleDescriptors()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	f.resolver = NewResolver(f.resolver.markets, f.resolver.siloConfig, f.resolver.siloVault, f.resolver.erc20, nil, WithStore(store))
	out, err := f.resolver.Resolve(context.Background(), f.env.Engine, "8")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(out) != 1 || out[0].Address != vaultUSDC {
		t.Fatalf("expected seeded descriptor, got %+v", out)
	}
	if f.backend.Calls("getSilo") != 0 {
		t.Fatal("seeded store must short-circuit discovery")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("YIELDMOVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YIELDMOVE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	store := NewRedisStore(rdb)
	key := Key{Network: "sonic", MarketID: "test-" + common.Bytes2Hex([]byte(t.Name()))}
	defer rdb.Del(context.Background(), redisKey(key))

	if _, ok, err := store.Get(context.Background(), key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Put(context.Background(), key, sampleDescriptors()); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	out, ok, err := store.Get(context.Background(), key)
	if err != nil || !ok || out[0].Symbol != "USDC.e" {
		t.Fatalf("unexpected redis round trip: ok=%v err=%v out=%+v", ok, err, out)
	}
}

func TestRedisKeySchema(t *testing.T) {
	if got := redisKey(Key{Network: "Sonic", MarketID: "8"}); got != "yieldmove:vault:sonic:8" {
		t.Fatalf("unexpected redis key %q", got)
	}
}
