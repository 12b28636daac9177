package execution_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ggonzalez94/yieldmove/internal/chain/chaintest"
	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/execution/executiontest"
	"github.com/ggonzalez94/yieldmove/internal/metrics"
	"github.com/ggonzalez94/yieldmove/internal/registry"
)

var (
	poolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000c01")
)

func newEnv(t *testing.T, fee config.FeeSettings, options ...execution.EngineOption) *executiontest.Env {
	t.Helper()
	backend := chaintest.New(42161)
	settings := config.Settings{Chains: map[string]config.ChainSettings{
		"arbitrum": {Fee: fee},
	}}
	return executiontest.New("arbitrum", backend, settings, nil, options...)
}

func intent() execution.Intent {
	return execution.Intent{Label: "supply", To: poolAddr, Data: []byte{0x01, 0x02, 0x03, 0x04}}
}

func TestSubmitConfirmsWithEIP1559Fees(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"})
	out, err := env.Engine.Submit(context.Background(), intent())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if out.Status != execution.StatusConfirmed || !out.Confirmed() {
		t.Fatalf("expected confirmed, got %+v", out)
	}
	if env.Backend.SentCount() != 1 {
		t.Fatalf("expected one broadcast, got %d", env.Backend.SentCount())
	}
	sent := env.Backend.Sent[0]
	if sent.Type() != types.DynamicFeeTxType {
		t.Fatalf("expected dynamic fee tx, got type %d", sent.Type())
	}
	// 2 * base fee 45 + tip 10
	if sent.GasFeeCap().Int64() != 100 || sent.GasTipCap().Int64() != 10 {
		t.Fatalf("unexpected fees cap=%s tip=%s", sent.GasFeeCap(), sent.GasTipCap())
	}
	if sent.Gas() != 120_000 {
		t.Fatalf("expected buffered gas 120000, got %d", sent.Gas())
	}
	if out.BlockNumber != 101 || out.Attempts != 1 {
		t.Fatalf("unexpected outcome fields: %+v", out)
	}
	if !strings.HasPrefix(out.ExplorerURL, "https://explorer.test/tx/0x") {
		t.Fatalf("unexpected explorer url %q", out.ExplorerURL)
	}
}

func TestSubmitEstimationFailureBroadcastsNothing(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"})
	env.Backend.EstimateFunc = func(ethereum.CallMsg) (uint64, error) {
		return 0, errors.New("execution reverted")
	}
	out, err := env.Engine.Submit(context.Background(), intent())
	if !clierr.Is(err, clierr.CodeGasEstimation) {
		t.Fatalf("expected gas estimation error, got %v", err)
	}
	if out.Status != execution.StatusSubmissionFailed {
		t.Fatalf("expected submission-failed, got %s", out.Status)
	}
	if env.Backend.SentCount() != 0 || env.Backend.NonceReads != 0 {
		t.Fatalf("expected no nonce reads or broadcasts, got sent=%d nonces=%d", env.Backend.SentCount(), env.Backend.NonceReads)
	}
}

func TestSubmitGasLimitOverride(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559", GasLimitOverride: 500_000})
	if _, err := env.Engine.Submit(context.Background(), intent()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got := env.Backend.Sent[0].Gas(); got != 500_000 {
		t.Fatalf("expected override gas limit, got %d", got)
	}
}

func TestSubmitUnderpricedExhaustsBumpSequence(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "legacy"})
	env.Backend.SendFunc = func(*types.Transaction) error {
		return errors.New("replacement transaction underpriced")
	}
	out, err := env.Engine.Submit(context.Background(), intent())
	if !clierr.Is(err, clierr.CodeUnderpriced) {
		t.Fatalf("expected underpriced error, got %v", err)
	}
	if out.Status != execution.StatusUnderpricedExhausted {
		t.Fatalf("expected underpriced-retry-exhausted, got %s", out.Status)
	}
	want := []int64{100, 130, 169}
	if env.Backend.SentCount() != len(want) {
		t.Fatalf("expected %d attempts, got %d", len(want), env.Backend.SentCount())
	}
	for i, tx := range env.Backend.Sent {
		if tx.Type() != types.LegacyTxType {
			t.Fatalf("attempt %d: expected legacy tx", i)
		}
		if tx.GasPrice().Int64() != want[i] {
			t.Fatalf("attempt %d: expected gas price %d, got %s", i, want[i], tx.GasPrice())
		}
	}
	if env.Backend.NonceReads != 3 {
		t.Fatalf("expected nonce re-read per attempt, got %d", env.Backend.NonceReads)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", out.Attempts)
	}
}

func TestSubmitRetriesUnderpricedThenConfirms(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "legacy"})
	calls := 0
	env.Backend.SendFunc = func(*types.Transaction) error {
		calls++
		if calls == 1 {
			return errors.New("transaction underpriced")
		}
		return nil
	}
	out, err := env.Engine.Submit(context.Background(), intent())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if out.Status != execution.StatusConfirmed || out.Attempts != 2 {
		t.Fatalf("expected confirmed on second attempt, got %+v", out)
	}
	if got := env.Backend.Sent[1].GasPrice().Int64(); got != 130 {
		t.Fatalf("expected bumped gas price 130, got %d", got)
	}
	if out.GasPrice != "130" {
		t.Fatalf("expected recorded gas price 130, got %q", out.GasPrice)
	}
}

func TestSubmitLegacyMultiplier(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "legacy", GasPriceMultiplier: 2})
	if _, err := env.Engine.Submit(context.Background(), intent()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got := env.Backend.Sent[0].GasPrice().Int64(); got != 200 {
		t.Fatalf("expected multiplied gas price 200, got %d", got)
	}
}

func TestSubmitBroadcastFailure(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"})
	env.Backend.SendFunc = func(*types.Transaction) error {
		return errors.New("nonce too low")
	}
	out, err := env.Engine.Submit(context.Background(), intent())
	if !clierr.Is(err, clierr.CodeBroadcast) {
		t.Fatalf("expected broadcast error, got %v", err)
	}
	if out.Status != execution.StatusSubmissionFailed || env.Backend.SentCount() != 1 {
		t.Fatalf("expected single failed attempt, got status=%s sent=%d", out.Status, env.Backend.SentCount())
	}
}

func TestSubmitRevertedReceipt(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"})
	env.Backend.ReceiptFunc = func(tx *types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: tx.Hash(), BlockNumber: big.NewInt(101), GasUsed: 21_000}
	}
	out, err := env.Engine.Submit(context.Background(), intent())
	if !clierr.Is(err, clierr.CodeReverted) {
		t.Fatalf("expected reverted error, got %v", err)
	}
	if out.Status != execution.StatusReverted || out.TxHash == "" {
		t.Fatalf("expected reverted outcome with hash, got %+v", out)
	}
}

func TestSubmitReceiptTimeoutIsPending(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"})
	env.Backend.ReceiptFunc = func(*types.Transaction) *types.Receipt { return nil }
	out, err := env.Engine.Submit(context.Background(), intent())
	if !clierr.Is(err, clierr.CodeReceiptTimeout) {
		t.Fatalf("expected receipt timeout, got %v", err)
	}
	if out.Status != execution.StatusPending || out.TxHash == "" {
		t.Fatalf("expected pending outcome with hash, got %+v", out)
	}

	hash := env.Backend.Sent[0].Hash()
	env.Backend.SetReceipt(hash, &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(120)})
	waited, err := env.Engine.WaitForReceipt(context.Background(), hash)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if waited.Status != execution.StatusConfirmed || waited.BlockNumber != 120 {
		t.Fatalf("expected confirmed at block 120, got %+v", waited)
	}
}

func TestEnsureAllowanceSkipsWhenSufficient(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"})
	erc20 := env.Registry.MustABI(registry.ABIERC20)
	env.Backend.Returns(tokenAddr, erc20, "allowance", big.NewInt(1_000))

	out, err := env.Engine.EnsureAllowance(context.Background(), tokenAddr, poolAddr, big.NewInt(500))
	if err != nil || out != nil {
		t.Fatalf("expected no approval, got out=%v err=%v", out, err)
	}
	if env.Backend.SentCount() != 0 {
		t.Fatalf("expected no broadcast, got %d", env.Backend.SentCount())
	}

	out, err = env.Engine.EnsureAllowance(context.Background(), tokenAddr, poolAddr, big.NewInt(5_000))
	if err != nil || out == nil || !out.Confirmed() {
		t.Fatalf("expected confirmed approval, got out=%v err=%v", out, err)
	}
	if *env.Backend.Sent[0].To() != tokenAddr {
		t.Fatalf("expected approve on token, got %s", env.Backend.Sent[0].To())
	}
}

func TestCallAppliesReadHints(t *testing.T) {
	backend := chaintest.New(42161)
	settings := config.Settings{Chains: map[string]config.ChainSettings{
		"arbitrum": {Fee: config.FeeSettings{Mode: "eip1559"}, Read: config.ReadSettings{GasLimit: 3_000_000, GasPriceMultiplier: 2}},
	}}
	env := executiontest.New("arbitrum", backend, settings, nil)
	erc20 := env.Registry.MustABI(registry.ABIERC20)
	backend.Returns(tokenAddr, erc20, "balanceOf", big.NewInt(42))

	balance, err := env.Engine.BalanceOf(context.Background(), tokenAddr, executiontest.Owner)
	if err != nil {
		t.Fatalf("balanceOf failed: %v", err)
	}
	if balance.Int64() != 42 {
		t.Fatalf("expected 42, got %s", balance)
	}
	if backend.LastCall.Gas != 3_000_000 {
		t.Fatalf("expected read gas hint, got %d", backend.LastCall.Gas)
	}
	if backend.LastCall.GasPrice == nil || backend.LastCall.GasPrice.Int64() != 200 {
		t.Fatalf("expected read gas price 200, got %v", backend.LastCall.GasPrice)
	}
}

func TestCallFailureIsReadError(t *testing.T) {
	m := metrics.New()
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"}, execution.WithMetrics(m))
	_, err := env.Engine.BalanceOf(context.Background(), tokenAddr, executiontest.Owner)
	if !clierr.Is(err, clierr.CodeRead) {
		t.Fatalf("expected read error, got %v", err)
	}
	if got := testutil.ToFloat64(m.ReadFailures.WithLabelValues("arbitrum", "balanceOf")); got != 1 {
		t.Fatalf("expected one read failure recorded, got %v", got)
	}
}

func TestSubmitRecordsMetrics(t *testing.T) {
	m := metrics.New()
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"}, execution.WithMetrics(m))
	if _, err := env.Engine.Submit(context.Background(), intent()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got := testutil.ToFloat64(m.Submissions.WithLabelValues("arbitrum", "confirmed")); got != 1 {
		t.Fatalf("expected one confirmed submission, got %v", got)
	}
	if got := testutil.ToFloat64(m.SubmitAttempts.WithLabelValues("arbitrum", "sent")); got != 1 {
		t.Fatalf("expected one sent attempt, got %v", got)
	}
}

func TestSpeedUpReplacesPendingTransaction(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "legacy"})
	to := poolAddr
	stuck := types.NewTx(&types.LegacyTx{Nonce: 5, GasPrice: big.NewInt(100), Gas: 90_000, To: &to, Value: big.NewInt(0), Data: []byte{0xaa}})
	env.Backend.AddTransaction(stuck)

	out, err := env.Engine.SpeedUp(context.Background(), stuck.Hash())
	if err != nil {
		t.Fatalf("speed up failed: %v", err)
	}
	if !out.Confirmed() {
		t.Fatalf("expected confirmed replacement, got %+v", out)
	}
	replacement := env.Backend.Sent[0]
	if replacement.Nonce() != 5 || replacement.Gas() != 90_000 {
		t.Fatalf("replacement must keep nonce and gas, got nonce=%d gas=%d", replacement.Nonce(), replacement.Gas())
	}
	if replacement.GasPrice().Int64() != 130 {
		t.Fatalf("expected bumped gas price 130, got %s", replacement.GasPrice())
	}
}

func TestSpeedUpRejectsMinedTransaction(t *testing.T) {
	env := newEnv(t, config.FeeSettings{Mode: "eip1559"})
	if _, err := env.Engine.Submit(context.Background(), intent()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	_, err := env.Engine.SpeedUp(context.Background(), env.Backend.Sent[0].Hash())
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for mined tx, got %v", err)
	}
	if env.Backend.SentCount() != 1 {
		t.Fatalf("expected no replacement broadcast, got %d", env.Backend.SentCount())
	}
}
