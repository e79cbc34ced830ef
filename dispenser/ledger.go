package dispenser

import (
	"context"
	"errors"
	"time"

	"dispenser.dev/node/merkle"
)

// Receipt marks a leaf as claimed. It is created once and never updated.
type Receipt struct {
	Slot      [32]byte
	Claimant  Pubkey
	Amount    uint64
	CreatedAt time.Time
}

var ErrReceiptNotFound = errors.New("receipt not found")

// ReceiptLedger stores receipts by slot. CreateIfAbsent must be atomic: of
// any number of concurrent calls for one slot exactly one succeeds and the
// others return ErrReceiptExists.
type ReceiptLedger interface {
	CreateIfAbsent(ctx context.Context, r Receipt) error
	Get(ctx context.Context, slot [32]byte) (Receipt, error)
}

// DeriveSlot maps serialized leaf bytes to their receipt slot, the RFC 6962
// leaf hash. The slot depends on the leaf only, never on who submits it.
func DeriveSlot(leaf []byte) [32]byte {
	return merkle.HashLeaf(leaf)
}

const receiptBytes = PubkeyBytes + 8 + 8

// EncodeReceipt is the storage form of a receipt value; the slot is the key.
func EncodeReceipt(r Receipt) []byte {
	out := make([]byte, 0, receiptBytes)
	out = append(out, r.Claimant[:]...)
	out = appendU64le(out, r.Amount)
	return appendU64le(out, uint64(r.CreatedAt.UnixNano())) // #nosec G115 -- timestamps after 1970.
}

func DecodeReceipt(slot [32]byte, b []byte) (Receipt, error) {
	r := Receipt{Slot: slot}
	off := 0
	if err := readFixed(b, &off, r.Claimant[:]); err != nil {
		return r, err
	}
	var err error
	if r.Amount, err = readU64le(b, &off); err != nil {
		return r, err
	}
	ts, err := readU64le(b, &off)
	if err != nil {
		return r, err
	}
	if off != len(b) {
		return r, claimerr(CLAIM_ERR_PARSE, "trailing bytes")
	}
	r.CreatedAt = time.Unix(0, int64(ts)).UTC() // #nosec G115 -- written by EncodeReceipt.
	return r, nil
}
