package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/yieldmove/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/registry"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func newChainIDServer(t *testing.T, chainIDHex string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := string(req.ID)
		if id == "" {
			id = "1"
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Method != "eth_chainId" {
			_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"unsupported"}}`, id)
			return
		}
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`, id, chainIDHex)
	}))
}

func TestDialVerifiesChainID(t *testing.T) {
	srv := newChainIDServer(t, "0xa4b1")
	defer srv.Close()

	gw, err := Dial(context.Background(), registry.ChainConfig{Name: "arbitrum", ChainID: 42161, RPCURL: srv.URL}, nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer gw.Close()
	if gw.ChainID().Int64() != 42161 {
		t.Fatalf("unexpected chain id %s", gw.ChainID())
	}
	if gw.Address() != (common.Address{}) {
		t.Fatal("expected zero address for read-only gateway")
	}
}

func TestDialRejectsChainIDMismatch(t *testing.T) {
	srv := newChainIDServer(t, "0xa")
	defer srv.Close()

	_, err := Dial(context.Background(), registry.ChainConfig{Name: "arbitrum", ChainID: 42161, RPCURL: srv.URL}, nil, nil)
	if !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for mismatched chain id, got %v", err)
	}
}

func TestDialRequiresRPCURL(t *testing.T) {
	_, err := Dial(context.Background(), registry.ChainConfig{Name: "base"}, nil, nil)
	if !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLimitedBackendDelegatesAndThrottles(t *testing.T) {
	fake := chaintest.New(10)
	limited := NewLimitedBackend(fake, 1, 1)

	if _, err := limited.PendingNonceAt(context.Background(), common.Address{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if fake.NonceReads != 1 {
		t.Fatalf("expected delegated nonce read, got %d", fake.NonceReads)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := limited.PendingNonceAt(ctx, common.Address{})
	if !clierr.Is(err, clierr.CodeRateLimited) {
		t.Fatalf("expected rate limited error with exhausted bucket, got %v", err)
	}
}

func TestLimitedBackendCodeAt(t *testing.T) {
	fake := chaintest.New(10)
	missing := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	fake.NoCode = map[common.Address]bool{missing: true}
	limited := NewLimitedBackend(fake, 1000, 10)

	code, err := limited.CodeAt(context.Background(), common.HexToAddress("0x01"), nil)
	if err != nil || len(code) == 0 {
		t.Fatalf("expected bytecode, got %x err=%v", code, err)
	}
	code, err = limited.CodeAt(context.Background(), missing, nil)
	if err != nil || len(code) != 0 {
		t.Fatalf("expected empty bytecode, got %x err=%v", code, err)
	}
}
