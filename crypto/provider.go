// Package crypto holds the signature primitives the node runs outside the
// dispenser core: the host's precompiled signature programs, wallet-side
// signing helpers and key wrapping for the guard keystore.
package crypto

import "dispenser.dev/node/dispenser"

// Provider is the narrow signature interface the precompile step needs.
type Provider interface {
	VerifyEd25519(pub dispenser.Pubkey, msg []byte, sig [dispenser.SignatureBytes]byte) bool
	RecoverEthAddress(digest [32]byte, sig [dispenser.SignatureBytes]byte, recoveryID uint8) (dispenser.EvmPubkey, bool)
}
