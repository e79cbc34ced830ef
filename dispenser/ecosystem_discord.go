package dispenser

import (
	"encoding/binary"
	"unicode/utf8"
)

// DiscordMessage is what the dispenser guard signs after checking a Discord
// login: Borsh {user id: string, claimant: Pubkey}. UserID is the numeric
// Discord account id (a snowflake), never the display username.
type DiscordMessage struct {
	UserID   string
	Claimant Pubkey
}

func (m DiscordMessage) Encode() []byte {
	out := make([]byte, 0, 4+len(m.UserID)+PubkeyBytes)
	out = appendString(out, m.UserID)
	return append(out, m.Claimant[:]...)
}

// ParseDiscordMessage decodes a guard message. Trailing bytes are a framing
// failure.
func ParseDiscordMessage(data []byte) (DiscordMessage, error) {
	var m DiscordMessage
	if len(data) < 4 {
		return m, framingerr(EcosystemDiscord, "truncated user id length")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	if uint64(len(data)) != 4+uint64(n)+PubkeyBytes {
		return m, framingerr(EcosystemDiscord, "length does not match message")
	}
	name := data[4 : 4+int(n)]
	if !utf8.Valid(name) {
		return m, framingerr(EcosystemDiscord, "user id is not utf-8")
	}
	m.UserID = string(name)
	copy(m.Claimant[:], data[4+int(n):])
	return m, nil
}
