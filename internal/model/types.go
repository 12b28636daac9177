package model

import "time"

const EnvelopeVersion = "v1"

// Envelope wraps every command result.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Network   string    `json:"network,omitempty"`
	Signer    string    `json:"signer,omitempty"`
	Partial   bool      `json:"partial"`
}

// Balance is a protocol position or wallet balance of one token.
type Balance struct {
	Protocol    string `json:"protocol"`
	Network     string `json:"network"`
	Token       string `json:"token"`
	Address     string `json:"address"`
	AmountUnits string `json:"amount_base_units"`
	Amount      string `json:"amount"`
}

// VaultPosition is the signer's position in one Silo vault.
type VaultPosition struct {
	Network          string  `json:"network"`
	Market           string  `json:"market"`
	Vault            string  `json:"vault"`
	Asset            string  `json:"asset"`
	Symbol           string  `json:"symbol"`
	CollateralType   string  `json:"collateral_type"`
	Shares           string  `json:"shares"`
	TotalBalance     string  `json:"total_balance"`
	AvailableBalance string  `json:"available_balance"`
	LiquidityPct     float64 `json:"liquidity_pct"`
	UtilizationPct   float64 `json:"utilization_pct"`
}
