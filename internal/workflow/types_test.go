package workflow

import (
	"os"
	"path/filepath"
	"testing"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
)

func TestLoadRecommendationFormats(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "rec.json")
	if err := os.WriteFile(jsonPath, []byte(`{"kind":"standard_transfer","asset":"USDC","source_chain":"arbitrum","source_protocol":"aave","target_protocol":"comet","position_size":"25"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	rec, err := LoadRecommendation(jsonPath)
	if err != nil {
		t.Fatalf("load json failed: %v", err)
	}
	if rec.Kind != KindStandardTransfer || rec.PositionSize != "25" {
		t.Fatalf("unexpected recommendation %+v", rec)
	}

	yamlPath := filepath.Join(dir, "rec.yaml")
	body := "kind: silo_market_transfer\nasset: USDC.e\nsource_chain: sonic\nsource_market: \"8\"\ntarget_market: \"20\"\n"
	if err := os.WriteFile(yamlPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	rec, err = LoadRecommendation(yamlPath)
	if err != nil {
		t.Fatalf("load yaml failed: %v", err)
	}
	if rec.Kind != KindSiloMarketTransfer || rec.SourceMarket != "8" || rec.TargetMarket != "20" {
		t.Fatalf("unexpected recommendation %+v", rec)
	}
}

func TestRecommendationValidate(t *testing.T) {
	cases := []struct {
		name string
		rec  Recommendation
	}{
		{"missing asset", Recommendation{Kind: KindStandardTransfer, SourceChain: "arbitrum"}},
		{"unknown kind", Recommendation{Kind: "bridge", Asset: "USDC", SourceChain: "arbitrum"}},
		{"bad size", Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", PositionSize: "-1", SourceProtocol: "aave", TargetProtocol: "comet"}},
		{"infinite size", Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", PositionSize: "Inf", SourceProtocol: "aave", TargetProtocol: "comet"}},
		{"exponent size", Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", PositionSize: "1e400", SourceProtocol: "aave", TargetProtocol: "comet"}},
		{"hex float size", Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", PositionSize: "0x1p-2", SourceProtocol: "aave", TargetProtocol: "comet"}},
		{"zero size", Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", PositionSize: "0.0", SourceProtocol: "aave", TargetProtocol: "comet"}},
		{"unknown protocol", Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", PositionSize: "1", SourceProtocol: "curve", TargetProtocol: "comet"}},
		{"same market", Recommendation{Kind: KindSiloMarketTransfer, Asset: "USDC", SourceChain: "sonic", SourceMarket: "8", TargetMarket: "8"}},
		{"slippage", Recommendation{Kind: KindStandardTransfer, Asset: "USDC", SourceChain: "arbitrum", PositionSize: "1", SourceProtocol: "aave", TargetProtocol: "comet", SlippagePct: 100}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.rec.Validate()
			if clierr.CodeOf(err) != clierr.CodeUsage && clierr.CodeOf(err) != clierr.CodeUnsupported {
				t.Fatalf("expected usage or unsupported error, got %v", err)
			}
		})
	}
}

func TestNewStepStatus(t *testing.T) {
	pending := newStep("withdraw", "aave-v3", "arbitrum", execution.Outcome{Status: execution.StatusPending, TxHash: "0x1"}, clierr.New(clierr.CodeReceiptTimeout, "timeout"))
	if pending.Status != StepPending || pending.TxHash != "0x1" || pending.Reason != "timeout" {
		t.Fatalf("unexpected pending step %+v", pending)
	}
	failed := newStep("supply", "aave-v3", "arbitrum", execution.Outcome{Status: execution.StatusConfirmed}, clierr.New(clierr.CodeRead, "post check"))
	if failed.Status != StepFailed {
		t.Fatalf("an error must fail an otherwise confirmed step, got %+v", failed)
	}
	refused := newStep("supply", "aave-v3", "arbitrum", execution.Skipped("arbitrum", "supply", "frozen"), clierr.New(clierr.CodeContractState, "reserve frozen"))
	if refused.Status != StepFailed || refused.Reason != "frozen" {
		t.Fatalf("a refused step with an error must fail, got %+v", refused)
	}
	noop := newStep("withdraw", "silo-v2", "sonic", execution.Skipped("sonic", "withdraw", "nothing to withdraw"), nil)
	if noop.Status != StepSkipped {
		t.Fatalf("a skipped step without an error stays skipped, got %+v", noop)
	}
}

func TestResultErrFallsBackToReasonCode(t *testing.T) {
	res := ExecutionResult{ID: "x", Status: StatusFailed, Reason: ReasonTargetSiloNotFound}
	if !clierr.Is(res.Err(), clierr.CodeVaultDiscovery) {
		t.Fatalf("expected vault discovery code, got %v", res.Err())
	}
	res.Status = StatusSuccess
	if res.Err() != nil {
		t.Fatal("success has no error")
	}
}
