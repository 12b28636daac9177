// Package workflow turns a Recommendation into an ordered sequence of
// confirmed protocol steps.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/protocols"
	"github.com/ggonzalez94/yieldmove/internal/token"
)

type Kind string

const (
	KindStandardTransfer   Kind = "standard_transfer"
	KindSiloMarketTransfer Kind = "silo_market_transfer"
)

// Recommendation is consumed read-only. PositionSize is a decimal amount in
// token units; an empty size on a silo transfer moves the whole position.
type Recommendation struct {
	Kind           Kind    `json:"kind" yaml:"kind"`
	Asset          string  `json:"asset" yaml:"asset"`
	TargetAsset    string  `json:"target_asset,omitempty" yaml:"target_asset"`
	SourceChain    string  `json:"source_chain" yaml:"source_chain"`
	TargetChain    string  `json:"target_chain,omitempty" yaml:"target_chain"`
	SourceProtocol string  `json:"source_protocol,omitempty" yaml:"source_protocol"`
	TargetProtocol string  `json:"target_protocol,omitempty" yaml:"target_protocol"`
	SourceMarket   string  `json:"source_market,omitempty" yaml:"source_market"`
	TargetMarket   string  `json:"target_market,omitempty" yaml:"target_market"`
	PositionSize   string  `json:"position_size,omitempty" yaml:"position_size"`
	SlippagePct    float64 `json:"slippage_pct,omitempty" yaml:"slippage_pct"`
}

func (r Recommendation) targetChain() string {
	if strings.TrimSpace(r.TargetChain) == "" {
		return r.SourceChain
	}
	return r.TargetChain
}

func (r Recommendation) crossChain() bool {
	return config.NormalizeNetwork(r.SourceChain) != config.NormalizeNetwork(r.targetChain())
}

// Validate checks the fields each kind needs.
func (r Recommendation) Validate() error {
	if strings.TrimSpace(r.Asset) == "" {
		return clierr.New(clierr.CodeUsage, "recommendation asset is required")
	}
	if strings.TrimSpace(r.SourceChain) == "" {
		return clierr.New(clierr.CodeUsage, "recommendation source_chain is required")
	}
	if size := strings.TrimSpace(r.PositionSize); size != "" {
		if units, err := token.ParseUnits(size, token.DefaultDecimals); err != nil || units.Sign() <= 0 {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid position_size %q", r.PositionSize))
		}
	}
	if r.SlippagePct < 0 || r.SlippagePct >= 100 {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("slippage_pct %.2f out of range", r.SlippagePct))
	}
	switch r.Kind {
	case KindStandardTransfer:
		if strings.TrimSpace(r.PositionSize) == "" {
			return clierr.New(clierr.CodeUsage, "standard_transfer requires position_size")
		}
		for _, raw := range []string{r.SourceProtocol, r.TargetProtocol} {
			if _, err := protocols.Parse(raw); err != nil {
				return err
			}
		}
	case KindSiloMarketTransfer:
		if strings.TrimSpace(r.SourceMarket) == "" || strings.TrimSpace(r.TargetMarket) == "" {
			return clierr.New(clierr.CodeUsage, "silo_market_transfer requires source_market and target_market")
		}
		if strings.TrimSpace(r.SourceMarket) == strings.TrimSpace(r.TargetMarket) {
			return clierr.New(clierr.CodeUsage, "source and target market must differ")
		}
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown recommendation kind %q", r.Kind))
	}
	return nil
}

// LoadRecommendation reads a JSON or YAML recommendation file.
func LoadRecommendation(path string) (Recommendation, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Recommendation{}, clierr.Wrap(clierr.CodeUsage, "read recommendation", err)
	}
	var rec Recommendation
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(buf, &rec)
	default:
		err = json.Unmarshal(buf, &rec)
	}
	if err != nil {
		return Recommendation{}, clierr.Wrap(clierr.CodeUsage, "parse recommendation", err)
	}
	return rec, rec.Validate()
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Failure reasons reported in ExecutionResult.Reason.
const (
	ReasonSourceSiloNotFound            = "source_silo_not_found"
	ReasonTargetSiloNotFound            = "target_silo_not_found"
	ReasonInsufficientBalance           = "insufficient_balance"
	ReasonInsufficientWithdrawableFunds = "insufficient_withdrawable_funds"
	ReasonUnsupportedToken              = "unsupported_token"
	ReasonWithdrawalError               = "withdrawal_error"
	ReasonSwapError                     = "swap_error"
	ReasonDepositError                  = "deposit_error"
	ReasonNotImplemented                = "not_implemented"
	ReasonConfiguration                 = "configuration_error"
)

type StepStatus string

const (
	StepConfirmed StepStatus = "confirmed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepPending   StepStatus = "pending"
)

// Step is one attempted protocol action.
type Step struct {
	Name     string             `json:"name"`
	Protocol string             `json:"protocol"`
	Network  string             `json:"network"`
	Status   StepStatus         `json:"status"`
	TxHash   string             `json:"tx_hash,omitempty"`
	Amount   string             `json:"amount,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Outcome  *execution.Outcome `json:"outcome,omitempty"`
}

func newStep(name string, protocol protocols.Protocol, network string, out execution.Outcome, err error) Step {
	step := Step{Name: name, Protocol: string(protocol), Network: network, TxHash: out.TxHash, Reason: out.Reason}
	switch out.Status {
	case execution.StatusConfirmed:
		step.Status = StepConfirmed
	case execution.StatusSkipped:
		step.Status = StepSkipped
	case execution.StatusPending:
		step.Status = StepPending
	default:
		step.Status = StepFailed
	}
	// A pending step keeps its status so the hash can be re-queried; any
	// other step that returned an error failed, even when the operator
	// refused it before broadcasting.
	if err != nil && step.Status != StepPending {
		step.Status = StepFailed
	}
	if err != nil && step.Reason == "" {
		step.Reason = err.Error()
	}
	outcome := out
	step.Outcome = &outcome
	return step
}

// ExecutionResult is produced once per Recommendation.
type ExecutionResult struct {
	ID                string         `json:"id"`
	Kind              Kind           `json:"kind"`
	Status            Status         `json:"status"`
	Reason            string         `json:"reason,omitempty"`
	Message           string         `json:"message,omitempty"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	SourceMarket      string         `json:"source_market,omitempty"`
	TargetMarket      string         `json:"target_market,omitempty"`
	AmountRequested   string         `json:"amount_requested,omitempty"`
	AmountTransferred string         `json:"amount_transferred,omitempty"`
	Steps             []Step         `json:"steps"`
	Recommendation    Recommendation `json:"recommendation"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`

	code clierr.Code
}

func (r *ExecutionResult) succeed() {
	r.Status = StatusSuccess
	r.Reason = ""
	r.Message = ""
}

func (r *ExecutionResult) fail(reason string, err error) {
	r.conclude(StatusFailed, reason, err)
}

// partial marks a result whose earlier steps confirmed before a later one
// failed.
func (r *ExecutionResult) partial(reason string, err error) {
	r.conclude(StatusPartial, reason, err)
}

func (r *ExecutionResult) conclude(status Status, reason string, err error) {
	r.Status = status
	r.Reason = reason
	if err != nil {
		r.Message = err.Error()
		if typed, ok := clierr.As(err); ok {
			r.code = typed.Code
		}
	}
}

func newResult(rec Recommendation, now time.Time) *ExecutionResult {
	return &ExecutionResult{
		ID:             uuid.NewString(),
		Kind:           rec.Kind,
		Network:        config.NormalizeNetwork(rec.SourceChain),
		Asset:          config.NormalizeSymbol(rec.Asset),
		SourceMarket:   rec.SourceMarket,
		TargetMarket:   rec.TargetMarket,
		Steps:          []Step{},
		Recommendation: rec,
		StartedAt:      now.UTC(),
	}
}

// ConfirmedHashes lists the hashes of every confirmed step in order.
func (r ExecutionResult) ConfirmedHashes() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Status == StepConfirmed && s.TxHash != "" {
			out = append(out, s.TxHash)
		}
	}
	return out
}

// Err maps a non-successful result to a typed error.
func (r ExecutionResult) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusPartial:
		return clierr.New(clierr.CodePartialWorkflow, fmt.Sprintf("workflow %s partially completed (%s): %s", r.ID, r.Reason, r.Message))
	default:
		code := r.code
		if code == clierr.CodeSuccess || code == clierr.CodeInternal {
			code = reasonCode(r.Reason)
		}
		return clierr.New(code, fmt.Sprintf("workflow %s failed (%s): %s", r.ID, r.Reason, r.Message))
	}
}

func reasonCode(reason string) clierr.Code {
	switch reason {
	case ReasonSourceSiloNotFound, ReasonTargetSiloNotFound:
		return clierr.CodeVaultDiscovery
	case ReasonInsufficientBalance, ReasonInsufficientWithdrawableFunds:
		return clierr.CodeInsufficientBalance
	case ReasonUnsupportedToken:
		return clierr.CodeUnsupportedToken
	case ReasonNotImplemented:
		return clierr.CodeUnsupported
	case ReasonConfiguration:
		return clierr.CodeConfig
	default:
		return clierr.CodeReverted
	}
}
