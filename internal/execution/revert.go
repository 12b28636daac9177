package execution

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

var (
	errorStringSelector = common.FromHex("0x08c379a0")
	panicSelector       = common.FromHex("0x4e487b71")
)

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch {
	case bytes.Equal(data[:4], errorStringSelector):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return ""
		}
		return reason
	case bytes.Equal(data[:4], panicSelector):
		if len(data) < 36 {
			return "panic"
		}
		code := new(big.Int).SetBytes(data[4:36])
		return fmt.Sprintf("panic code 0x%x", code)
	default:
		return fmt.Sprintf("custom error 0x%x", data[:4])
	}
}

func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		return decodeRevertData(common.FromHex(v))
	case []byte:
		return decodeRevertData(v)
	default:
		return ""
	}
}

func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		message = message + ": " + reason
	}
	return clierr.Wrap(code, message, err)
}

// isUnderpriced matches node rejections that a higher fee can resolve.
func isUnderpriced(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"underpriced",
		"fee too low",
		"max fee per gas less than block base fee",
		"gas price too low",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// ParseTxHash accepts a 0x-prefixed 32-byte hash.
func ParseTxHash(raw string) (common.Hash, bool) {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "0x") || len(clean) != 66 {
		return common.Hash{}, false
	}
	buf := common.FromHex(clean)
	if len(buf) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(buf), true
}
