package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeBlocked     Code = 16

	CodeConfig              Code = 20
	CodeUnsupportedToken    Code = 21
	CodeInsufficientBalance Code = 22
	CodeContractState       Code = 23
	CodeGasEstimation       Code = 24
	CodeUnderpriced         Code = 25
	CodeReverted            Code = 26
	CodeReceiptTimeout      Code = 27
	CodeVaultDiscovery      Code = 28
	CodePartialWorkflow     Code = 29
	CodeRead                Code = 30
	CodeSigner              Code = 31
	CodeBroadcast           Code = 32
)

var codeNames = map[Code]string{
	CodeInternal:            "internal_error",
	CodeUsage:               "usage_error",
	CodeAuth:                "auth_error",
	CodeRateLimited:         "rate_limited",
	CodeUnavailable:         "rpc_unavailable",
	CodeUnsupported:         "unsupported",
	CodeBlocked:             "command_blocked",
	CodeConfig:              "configuration_error",
	CodeUnsupportedToken:    "unsupported_token",
	CodeInsufficientBalance: "insufficient_balance",
	CodeContractState:       "contract_state",
	CodeGasEstimation:       "gas_estimation_failure",
	CodeUnderpriced:         "underpriced_submission",
	CodeReverted:            "transaction_reverted",
	CodeReceiptTimeout:      "receipt_timeout",
	CodeVaultDiscovery:      "vault_discovery",
	CodePartialWorkflow:     "partial_workflow",
	CodeRead:                "read_failure",
	CodeSigner:              "signer_error",
	CodeBroadcast:           "broadcast_failure",
}

// String returns the snake_case name used in output envelopes and reason fields.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether the outermost typed error in err's chain carries code.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

// CodeOf returns the code of the outermost typed error, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}
