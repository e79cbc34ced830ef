package dispenser

// AuthorizationPayload is the message every external wallet signs. It names
// the dispenser deployment and the claimant, so a signature cannot be
// replayed for another claimant or another dispenser.
func AuthorizationPayload(dispenserID, claimant Pubkey) []byte {
	s := "Airdrop PID:\n" + dispenserID.String() +
		"\nI authorize wallet\n" + claimant.String() +
		"\nto claim my tokens.\n"
	return []byte(s)
}
