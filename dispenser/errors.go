package dispenser

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CLAIM_ERR_PARSE   ErrorCode = "CLAIM_ERR_PARSE"
	CLAIM_ERR_FRAMING ErrorCode = "CLAIM_ERR_FRAMING"

	CLAIM_ERR_SIG_WRONG_PROGRAM          ErrorCode = "CLAIM_ERR_SIG_WRONG_PROGRAM"
	CLAIM_ERR_SIG_WRONG_HEADER           ErrorCode = "CLAIM_ERR_SIG_WRONG_HEADER"
	CLAIM_ERR_SIG_WRONG_PAYLOAD          ErrorCode = "CLAIM_ERR_SIG_WRONG_PAYLOAD"
	CLAIM_ERR_SIG_WRONG_PAYLOAD_METADATA ErrorCode = "CLAIM_ERR_SIG_WRONG_PAYLOAD_METADATA"
	CLAIM_ERR_SIG_WRONG_SIGNER           ErrorCode = "CLAIM_ERR_SIG_WRONG_SIGNER"
	CLAIM_ERR_RECOVERY                   ErrorCode = "CLAIM_ERR_RECOVERY"
	CLAIM_ERR_UNAUTHORIZED_CHAIN_ID      ErrorCode = "CLAIM_ERR_UNAUTHORIZED_CHAIN_ID"

	CLAIM_ERR_INVALID_INCLUSION_PROOF ErrorCode = "CLAIM_ERR_INVALID_INCLUSION_PROOF"
	CLAIM_ERR_ALREADY_CLAIMED         ErrorCode = "CLAIM_ERR_ALREADY_CLAIMED"
	CLAIM_ERR_TRANSFER_EXCEEDS_MAX    ErrorCode = "CLAIM_ERR_TRANSFER_EXCEEDS_MAX"
	CLAIM_ERR_FORBIDDEN               ErrorCode = "CLAIM_ERR_FORBIDDEN"

	INIT_ERR_ALREADY_INITIALIZED ErrorCode = "INIT_ERR_ALREADY_INITIALIZED"
	INIT_ERR_MINT_MISMATCH       ErrorCode = "INIT_ERR_MINT_MISMATCH"
	INIT_ERR_CONFIG              ErrorCode = "INIT_ERR_CONFIG"
)

// Kind names the failure class a code belongs to. The five SIG_WRONG_* codes
// share the "signature-binding mismatch" class and differ only in the field
// that failed.
func (c ErrorCode) Kind() string {
	switch c {
	case CLAIM_ERR_PARSE:
		return "malformed input"
	case CLAIM_ERR_FRAMING:
		return "framing mismatch"
	case CLAIM_ERR_SIG_WRONG_PROGRAM, CLAIM_ERR_SIG_WRONG_HEADER, CLAIM_ERR_SIG_WRONG_PAYLOAD,
		CLAIM_ERR_SIG_WRONG_PAYLOAD_METADATA, CLAIM_ERR_SIG_WRONG_SIGNER:
		return "signature-binding mismatch"
	case CLAIM_ERR_RECOVERY:
		return "recovery failure"
	case CLAIM_ERR_UNAUTHORIZED_CHAIN_ID:
		return "unauthorized chain id"
	case CLAIM_ERR_INVALID_INCLUSION_PROOF:
		return "invalid inclusion proof"
	case CLAIM_ERR_ALREADY_CLAIMED:
		return "already claimed"
	case CLAIM_ERR_TRANSFER_EXCEEDS_MAX:
		return "transfer exceeds max"
	case CLAIM_ERR_FORBIDDEN:
		return "forbidden"
	case INIT_ERR_ALREADY_INITIALIZED, INIT_ERR_MINT_MISMATCH, INIT_ERR_CONFIG:
		return "initialization"
	default:
		return "unknown"
	}
}

type ClaimError struct {
	Code ErrorCode
	Msg  string
}

func (e *ClaimError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func claimerr(code ErrorCode, msg string) error {
	return &ClaimError{Code: code, Msg: msg}
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not a
// *ClaimError (directly or wrapped).
func CodeOf(err error) ErrorCode {
	var ce *ClaimError
	if errors.As(err, &ce) && ce != nil {
		return ce.Code
	}
	return ""
}

// ErrReceiptExists is returned by ReceiptLedger implementations when the slot
// is already occupied.
var ErrReceiptExists = errors.New("receipt already exists")
