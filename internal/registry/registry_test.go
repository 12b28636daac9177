package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

func testSettings() config.Settings {
	return config.Settings{
		Chains: map[string]config.ChainSettings{
			"arbitrum": {Name: "arbitrum", ChainID: 42161, RPCURL: "https://arb1.arbitrum.io/rpc", ExplorerURL: "https://arbiscan.io/"},
			"nowhere":  {Name: "nowhere", ChainID: 1},
		},
		Contracts: map[string]map[string]string{
			"aave-v3": {"Arbitrum": "0x794a61358D6845594F94dc1DB02A252b5b4814aD"},
			"lendle":  {"mantle": "not-an-address"},
		},
	}
}

func TestBuiltinABIsParse(t *testing.T) {
	for name, raw := range builtinABIs {
		if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
			t.Fatalf("failed to parse %s abi json: %v", name, err)
		}
	}
}

func TestSiloVaultOverloadNames(t *testing.T) {
	r := New(testSettings())
	parsed, err := r.ABI(ABISiloVault)
	if err != nil {
		t.Fatalf("load silo vault abi: %v", err)
	}
	for _, name := range []string{"deposit", "deposit0", "redeem", "redeem0", "maxWithdraw", "maxWithdraw0"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Fatalf("expected method %s", name)
		}
	}
	if len(parsed.Methods["deposit0"].Inputs) != 3 {
		t.Fatalf("expected deposit0 to be the collateral-type overload")
	}
}

func TestAddressLookup(t *testing.T) {
	r := New(testSettings())
	addr, err := r.Address("AAVE-V3", "arbitrum")
	if err != nil {
		t.Fatalf("address lookup: %v", err)
	}
	if addr != common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD") {
		t.Fatalf("unexpected address %s", addr.Hex())
	}

	if _, err := r.Address("aave-v3", "base"); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for missing binding, got %v", err)
	}
	if _, err := r.Address("lendle", "mantle"); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for malformed address, got %v", err)
	}
}

func TestChainLookup(t *testing.T) {
	r := New(testSettings())
	if _, err := r.Chain("ARBITRUM"); err != nil {
		t.Fatalf("chain lookup: %v", err)
	}
	if _, err := r.Chain("nowhere"); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for chain without rpc, got %v", err)
	}
	if _, err := r.Chain("solana"); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for unknown chain, got %v", err)
	}
}

func TestABIOverrideFromArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := `{"contractName":"ERC20","abi":[{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]}`
	if err := os.WriteFile(filepath.Join(dir, "erc20.json"), []byte(artifact), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	settings := testSettings()
	settings.ABIDir = dir
	r := New(settings)

	parsed, err := r.ABI(ABIERC20)
	if err != nil {
		t.Fatalf("load override abi: %v", err)
	}
	if len(parsed.Methods) != 1 {
		t.Fatalf("expected override with one method, got %d", len(parsed.Methods))
	}
	if _, err := r.ABI("unknown-contract"); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for unknown abi, got %v", err)
	}
}

func TestTxURL(t *testing.T) {
	r := New(testSettings())
	hash := common.HexToHash("0x01")
	got := r.TxURL("arbitrum", hash)
	if got != "https://arbiscan.io/tx/"+hash.Hex() {
		t.Fatalf("unexpected tx url %q", got)
	}
	if r.TxURL("nowhere", hash) != "" {
		t.Fatal("expected empty url without explorer")
	}
}
