package dispenser

// ClaimInfo is one entitlement leaf. Its encoding is the leaf preimage, so it
// must stay byte-identical to what the tree tooling produced.
type ClaimInfo struct {
	Identity Identity
	Amount   uint64
}

func (c ClaimInfo) Encode() []byte {
	out := c.Identity.appendIdentity(make([]byte, 0, 64))
	return appendU64le(out, c.Amount)
}

func DecodeClaimInfo(b []byte) (ClaimInfo, error) {
	off := 0
	id, err := readIdentity(b, &off)
	if err != nil {
		return ClaimInfo{}, err
	}
	amount, err := readU64le(b, &off)
	if err != nil {
		return ClaimInfo{}, err
	}
	if off != len(b) {
		return ClaimInfo{}, claimerr(CLAIM_ERR_PARSE, "trailing bytes")
	}
	return ClaimInfo{Identity: id, Amount: amount}, nil
}
