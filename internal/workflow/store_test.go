package workflow

import (
	"path/filepath"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "results.db"), filepath.Join(dir, "results.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	store := openTestStore(t)

	rec := Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", SourceProtocol: "aave-v3", TargetProtocol: "compound-v3", PositionSize: "10"}
	result := newResult(rec, time.Unix(1_700_000_000, 0))
	result.Status = StatusPartial
	result.Reason = ReasonDepositError
	result.Steps = append(result.Steps, Step{Name: "withdraw", Protocol: "aave-v3", Network: "arbitrum", Status: StepConfirmed, TxHash: "0x01"})
	result.FinishedAt = result.StartedAt.Add(time.Minute)
	if err := store.Save(*result); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(result.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kind != KindStandardTransfer || got.Recommendation.TargetProtocol != "compound-v3" {
		t.Fatalf("unexpected result %+v", got)
	}
	if hashes := got.ConfirmedHashes(); len(hashes) != 1 || hashes[0] != "0x01" {
		t.Fatalf("unexpected confirmed hashes %v", hashes)
	}

	got.Status = StatusSuccess
	got.FinishedAt = got.FinishedAt.Add(time.Minute)
	if err := store.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	succeeded, err := store.List(string(StatusSuccess), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(succeeded) != 1 {
		t.Fatalf("expected one successful result, got %d", len(succeeded))
	}
	partial, err := store.List(string(StatusPartial), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(partial) != 0 {
		t.Fatalf("expected upsert to replace the partial row, got %d", len(partial))
	}
}

func TestStoreGetMissingResult(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get("missing"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestStoreRejectsMissingID(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save(ExecutionResult{}); err == nil {
		t.Fatal("expected missing id error")
	}
}
