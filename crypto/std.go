package crypto

import (
	"crypto/ed25519"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"dispenser.dev/node/dispenser"
)

// StdProvider implements Provider with crypto/ed25519 and btcec.
type StdProvider struct{}

func (StdProvider) VerifyEd25519(pub dispenser.Pubkey, msg []byte, sig [dispenser.SignatureBytes]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

func (StdProvider) RecoverEthAddress(digest [32]byte, sig [dispenser.SignatureBytes]byte, recoveryID uint8) (dispenser.EvmPubkey, bool) {
	if recoveryID > 3 {
		return dispenser.EvmPubkey{}, false
	}
	compact := make([]byte, 1+dispenser.SignatureBytes)
	compact[0] = 27 + recoveryID
	copy(compact[1:], sig[:])
	key, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return dispenser.EvmPubkey{}, false
	}
	var pub dispenser.Secp256k1Pubkey
	copy(pub[:], key.SerializeUncompressed())
	return dispenser.EvmAddressFromPubkey(pub), true
}
