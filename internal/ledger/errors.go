package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNotSubmitted means the transaction never reached the network
	// (gas estimation, signing or sending failed).
	ErrNotSubmitted = errors.New("transaction not submitted")

	// ErrReverted means the transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")

	// ErrNotConfirmed means the wait for the receipt was abandoned.
	ErrNotConfirmed = errors.New("transaction not confirmed")
)

// Contract rejections recognised from revert reasons.
var (
	ErrOnlyAdmin       = errors.New("only admin")
	ErrAlreadyVoted    = errors.New("already voted")
	ErrInvalidProposal = errors.New("invalid proposal")
)

// TxError describes a failed contract write.
type TxError struct {
	Method string
	Hash   common.Hash // zero when the transaction was not submitted
	Reason string      // revert reason, if the node reported one
	Err    error       // ErrNotSubmitted, ErrReverted or ErrNotConfirmed
	Cause  error
}

func (e *TxError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Method, e.Err)
	if e.Hash != (common.Hash{}) {
		fmt.Fprintf(&b, " (tx %s)", e.Hash.Hex())
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	} else if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *TxError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// RevertReason extracts the revert reason carried by err, if any.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}

	var txErr *TxError
	if errors.As(err, &txErr) && txErr.Reason != "" {
		return txErr.Reason
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}

	msg := err.Error()
	if _, after, ok := strings.Cut(msg, "execution reverted: "); ok {
		return after
	}
	if _, after, ok := strings.Cut(msg, "reverted with reason string '"); ok {
		return strings.TrimSuffix(after, "'")
	}
	return ""
}

// Classify maps a contract rejection to ErrOnlyAdmin, ErrAlreadyVoted or
// ErrInvalidProposal. It returns nil for anything else.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrOnlyAdmin, ErrAlreadyVoted, ErrInvalidProposal} {
		if errors.Is(err, known) {
			return known
		}
	}

	reason := RevertReason(err)
	if reason == "" {
		reason = err.Error()
	}
	reason = strings.ToLower(reason)

	switch {
	case strings.Contains(reason, "only admin"):
		return ErrOnlyAdmin
	case strings.Contains(reason, "already voted"):
		return ErrAlreadyVoted
	case strings.Contains(reason, "invalid proposal"):
		return ErrInvalidProposal
	}
	return nil
}
