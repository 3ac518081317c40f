package ethereum

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

func errContains(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

func isNonceTooLow(err error) bool {
	return errContains(err, "nonce too low")
}

func isAlreadyKnown(err error) bool {
	return errContains(err, "already known", "known transaction")
}

func isInsufficientFunds(err error) bool {
	return errContains(err, "insufficient funds")
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return errContains(err, "execution reverted", "revert")
}

// revertReason extracts the Error(string) payload of a reverted call when the
// node returned it, falling back to the error text.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
