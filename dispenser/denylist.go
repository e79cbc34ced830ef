package dispenser

// Denylist holds keys that may never claim, whatever they prove.
type Denylist struct {
	native map[Pubkey]struct{}
	evm    map[EvmPubkey]struct{}
}

func NewDenylist(native []Pubkey, evm []EvmPubkey) Denylist {
	d := Denylist{
		native: make(map[Pubkey]struct{}, len(native)),
		evm:    make(map[EvmPubkey]struct{}, len(evm)),
	}
	for _, k := range native {
		d.native[k] = struct{}{}
	}
	for _, k := range evm {
		d.evm[k] = struct{}{}
	}
	return d
}

func (d Denylist) Len() int { return len(d.native) + len(d.evm) }

// Check looks only at the keys named by the certificate, so it runs before
// any verification work.
func (d Denylist) Check(claimant Pubkey, cert IdentityCertificate) error {
	switch c := cert.(type) {
	case NativeCertificate:
		if _, ok := d.native[claimant]; ok {
			return claimerr(CLAIM_ERR_FORBIDDEN, "claimant is denylisted")
		}
	case EvmCertificate:
		if _, ok := d.evm[c.Pubkey]; ok {
			return claimerr(CLAIM_ERR_FORBIDDEN, "evm key is denylisted")
		}
	case InjectiveCertificate:
		if _, ok := d.evm[c.Pubkey]; ok {
			return claimerr(CLAIM_ERR_FORBIDDEN, "evm key is denylisted")
		}
	}
	return nil
}
