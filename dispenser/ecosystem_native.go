package dispenser

import (
	"bytes"
	"encoding/binary"
)

// Off-chain message signing convention of the native chain:
//
//	"\xffsolana offchain" | version u8 | format u8 | length u16le | payload
//
// Only version 0 exists. Format 0 is restricted ASCII (printable plus
// newline) and is the only format accepted; format 1 (UTF-8) and 2 (extended
// UTF-8) framings are framing failures, as are UTF-8 payloads.
var NativeOffchainPrefix = []byte("\xffsolana offchain")

const (
	nativeOffchainVersion = 0

	NativeFormatRestrictedASCII = 0
	NativeFormatUTF8            = 1

	nativeOffchainMaxLen = 0xffff
)

type NativeOffchainCodec struct{}

func (NativeOffchainCodec) Parse(data []byte) ([]byte, error) {
	rest, ok := bytes.CutPrefix(data, NativeOffchainPrefix)
	if !ok {
		return nil, framingerr(EcosystemNative, "missing off-chain prefix")
	}
	if len(rest) < 4 {
		return nil, framingerr(EcosystemNative, "truncated header")
	}
	if rest[0] != nativeOffchainVersion {
		return nil, framingerr(EcosystemNative, "unsupported version")
	}
	format := rest[1]
	length := int(binary.LittleEndian.Uint16(rest[2:4]))
	payload := rest[4:]
	if length != len(payload) {
		return nil, framingerr(EcosystemNative, "length field does not match payload")
	}
	if format != NativeFormatRestrictedASCII {
		return nil, framingerr(EcosystemNative, "unsupported message format")
	}
	if _, ok := nativeMessageFormat(payload); !ok {
		return nil, framingerr(EcosystemNative, "payload is not restricted ASCII")
	}
	return append([]byte(nil), payload...), nil
}

func (NativeOffchainCodec) Wrap(payload []byte) ([]byte, error) {
	format, ok := nativeMessageFormat(payload)
	if !ok {
		return nil, framingerr(EcosystemNative, "payload is not representable")
	}
	out := make([]byte, 0, len(NativeOffchainPrefix)+4+len(payload))
	out = append(out, NativeOffchainPrefix...)
	out = append(out, nativeOffchainVersion, format)
	out = appendU16le(out, uint16(len(payload))) // #nosec G115 -- bounded by nativeOffchainMaxLen.
	return append(out, payload...), nil
}

func nativeMessageFormat(payload []byte) (uint8, bool) {
	if len(payload) > nativeOffchainMaxLen {
		return 0, false
	}
	if !isRestrictedASCII(payload) {
		return 0, false
	}
	return NativeFormatRestrictedASCII, true
}

func isRestrictedASCII(b []byte) bool {
	for _, c := range b {
		if c == '\n' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
