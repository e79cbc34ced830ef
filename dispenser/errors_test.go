package dispenser

import (
	"errors"
	"fmt"
	"testing"
)

func TestClaimError_ErrorFormatting(t *testing.T) {
	var e *ClaimError
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("nil receiver: %q", got)
	}
	e = &ClaimError{Code: CLAIM_ERR_FRAMING}
	if got := e.Error(); got != "CLAIM_ERR_FRAMING" {
		t.Fatalf("empty msg: %q", got)
	}
	e = &ClaimError{Code: CLAIM_ERR_FRAMING, Msg: "bad"}
	if got := e.Error(); got != "CLAIM_ERR_FRAMING: bad" {
		t.Fatalf("with msg: %q", got)
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", claimerr(CLAIM_ERR_RECOVERY, "x"))
	if got := CodeOf(err); got != CLAIM_ERR_RECOVERY {
		t.Fatalf("CodeOf: %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("plain error code: %q", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("nil error code: %q", got)
	}
}

func TestErrorCode_KindGroupsBindingMismatch(t *testing.T) {
	for _, c := range []ErrorCode{
		CLAIM_ERR_SIG_WRONG_PROGRAM,
		CLAIM_ERR_SIG_WRONG_HEADER,
		CLAIM_ERR_SIG_WRONG_PAYLOAD,
		CLAIM_ERR_SIG_WRONG_PAYLOAD_METADATA,
		CLAIM_ERR_SIG_WRONG_SIGNER,
	} {
		if c.Kind() != "signature-binding mismatch" {
			t.Fatalf("%s: kind %q", c, c.Kind())
		}
	}
	if CLAIM_ERR_FRAMING.Kind() == CLAIM_ERR_SIG_WRONG_PAYLOAD.Kind() {
		t.Fatalf("framing must not share the binding kind")
	}
	if ErrorCode("nope").Kind() != "unknown" {
		t.Fatalf("unexpected kind for unknown code")
	}
}
