package execution

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type OutcomeStatus string

const (
	StatusConfirmed            OutcomeStatus = "confirmed"
	StatusReverted             OutcomeStatus = "reverted"
	StatusUnderpricedExhausted OutcomeStatus = "underpriced-retry-exhausted"
	StatusSubmissionFailed     OutcomeStatus = "submission-failed"
	StatusPending              OutcomeStatus = "pending"
	StatusSkipped              OutcomeStatus = "skipped"
)

// Options tune the submission lifecycle.
type Options struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	GasBuffer      float64
	FeeBumpPercent int64
	MaxAttempts    int
	// NonceLockDir holds per-(signer, chain) lock files shared between
	// processes. Empty keeps the lock in-process only.
	NonceLockDir string
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 180 * time.Second,
		GasBuffer:      1.2,
		FeeBumpPercent: 130,
		MaxAttempts:    3,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = d.ReceiptTimeout
	}
	if o.GasBuffer < 1 {
		o.GasBuffer = d.GasBuffer
	}
	if o.FeeBumpPercent <= 100 {
		o.FeeBumpPercent = d.FeeBumpPercent
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	return o
}

// Intent is one state-changing call to submit.
type Intent struct {
	Label string
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Outcome is the terminal state of one submission.
type Outcome struct {
	Label                string        `json:"label,omitempty"`
	Status               OutcomeStatus `json:"status"`
	Network              string        `json:"network"`
	TxHash               string        `json:"tx_hash,omitempty"`
	ExplorerURL          string        `json:"explorer_url,omitempty"`
	Nonce                uint64        `json:"nonce,omitempty"`
	Attempts             int           `json:"attempts"`
	GasLimit             uint64        `json:"gas_limit,omitempty"`
	GasPrice             string        `json:"gas_price_wei,omitempty"`
	MaxFeePerGas         string        `json:"max_fee_per_gas_wei,omitempty"`
	MaxPriorityFeePerGas string        `json:"max_priority_fee_per_gas_wei,omitempty"`
	BlockNumber          uint64        `json:"block_number,omitempty"`
	GasUsed              uint64        `json:"gas_used,omitempty"`
	Reason               string        `json:"reason,omitempty"`

	Receipt *types.Receipt `json:"-"`
}

func (o Outcome) Confirmed() bool {
	return o.Status == StatusConfirmed
}

// Skipped marks a step that was intentionally not submitted.
func Skipped(network, label, reason string) Outcome {
	return Outcome{Label: label, Status: StatusSkipped, Network: network, Reason: reason}
}

// ReserveState is the decoded active/frozen pair of a lending reserve
// configuration word.
type ReserveState struct {
	Active bool `json:"active"`
	Frozen bool `json:"frozen"`
}

// ReserveFlags decodes bit 56 (active) and bit 57 (frozen).
func ReserveFlags(configuration *big.Int) ReserveState {
	if configuration == nil {
		return ReserveState{}
	}
	return ReserveState{
		Active: configuration.Bit(56) == 1,
		Frozen: configuration.Bit(57) == 1,
	}
}
