package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggonzalez94/yieldmove/internal/version"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("YIELDMOVE_LOG_LEVEL", "error")
	return tmp
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run(args)
	return code, stdout.String(), stderr.String()
}

func decodeEnvelope(t *testing.T, raw string) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("failed to parse envelope: %v output=%s", err, raw)
	}
	return env
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("yieldmove silo withdraw"); got != "silo withdraw" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("Status, tx_hash ,")
	if len(items) != 2 || items[0] != "status" || items[1] != "tx_hash" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestRunnerVersion(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout) != version.CLIVersion {
		t.Fatalf("unexpected version output %q", stdout)
	}
}

func TestRunnerBlockedCommand(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "supply", "--protocol", "aave", "--network", "arbitrum", "--asset", "USDC", "--amount", "1",
		"--enable-commands", "results list", "--results-only")
	if code != 16 {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, stderr)
	}
	env := decodeEnvelope(t, stderr)
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	errBody := env["error"].(map[string]any)
	if errBody["type"] != "command_blocked" {
		t.Fatalf("unexpected error type %v", errBody["type"])
	}
}

func TestRunnerUsageErrors(t *testing.T) {
	isolate(t)
	cases := [][]string{
		{"supply", "--network", "arbitrum"},
		{"execute"},
		{"tx", "wait", "0x01", "--network", "arbitrum"},
		{"results", "list", "--status", "done"},
		{"no-such-command"},
	}
	for _, args := range cases {
		code, _, stderr := run(t, args...)
		if code != 2 {
			t.Fatalf("%v: expected exit 2, got %d stderr=%s", args, code, stderr)
		}
	}
}

func TestRunnerResultsListEmpty(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "results", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var results []map[string]any
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("parse results: %v output=%s", err, stdout)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}
}

func TestRunnerExecuteCrossChainIsRecorded(t *testing.T) {
	tmp := isolate(t)
	recPath := filepath.Join(tmp, "rec.yaml")
	rec := "kind: standard_transfer\nasset: USDC\nsource_chain: arbitrum\ntarget_chain: base\nsource_protocol: aave-v3\ntarget_protocol: compound-v3\nposition_size: \"10\"\n"
	if err := os.WriteFile(recPath, []byte(rec), 0o644); err != nil {
		t.Fatalf("write recommendation: %v", err)
	}

	code, _, stderr := run(t, "execute", "--file", recPath)
	if code != 13 {
		t.Fatalf("expected exit 13, got %d stderr=%s", code, stderr)
	}
	env := decodeEnvelope(t, stderr)
	data := env["data"].(map[string]any)
	if data["status"] != "failed" || data["reason"] != "not_implemented" {
		t.Fatalf("unexpected result %v", data)
	}
	id := data["id"].(string)

	code, stdout, stderr := run(t, "results", "show", id, "--results-only")
	if code != 0 {
		t.Fatalf("expected stored result, got %d stderr=%s", code, stderr)
	}
	var stored map[string]any
	if err := json.Unmarshal([]byte(stdout), &stored); err != nil {
		t.Fatalf("parse stored result: %v", err)
	}
	if stored["id"] != id || stored["reason"] != "not_implemented" {
		t.Fatalf("unexpected stored result %v", stored)
	}

	code, stdout, _ = run(t, "results", "list", "--status", "failed", "--select", "id,reason", "--results-only")
	if code != 0 || !strings.Contains(stdout, id) {
		t.Fatalf("expected listed result, got %d %s", code, stdout)
	}
}

func TestRunnerExecuteInvalidRecommendation(t *testing.T) {
	tmp := isolate(t)
	recPath := filepath.Join(tmp, "rec.json")
	if err := os.WriteFile(recPath, []byte(`{"kind":"silo_market_transfer","asset":"USDC","source_chain":"sonic","source_market":"8","target_market":"8"}`), 0o644); err != nil {
		t.Fatalf("write recommendation: %v", err)
	}
	code, _, stderr := run(t, "execute", "--file", recPath)
	if code != 2 {
		t.Fatalf("expected usage error, got %d stderr=%s", code, stderr)
	}
	env := decodeEnvelope(t, stderr)
	if data, ok := env["data"].([]any); !ok || len(data) != 0 {
		t.Fatalf("expected empty data for invalid input, got %v", env["data"])
	}
}

func TestParseTxHash(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)
	if h, err := parseTxHash(valid); err != nil || h.Hex() != valid {
		t.Fatalf("unexpected parse %s err=%v", h.Hex(), err)
	}
	if _, err := parseTxHash("0xabc"); err == nil {
		t.Fatal("expected short hash to fail")
	}
}
