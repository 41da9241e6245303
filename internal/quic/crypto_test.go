package quic

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDeriveInitialKeys_RFC9001Vector checks deriveInitialKeys against the
// published RFC 9001 Appendix A.1 key derivation example for DCID
// 8394c8f03e515708. Unlike the round-trip test in initial_test.go, this
// does not encrypt with the same keys it decrypts with: it pins the
// actual RFC-specified hp/key/iv bytes, so a wrong initialSaltV1 (or any
// other step in the derivation chain) fails it directly.
func TestDeriveInitialKeys_RFC9001Vector(t *testing.T) {
	dcid, err := hex.DecodeString("8394c8f03e515708")
	require.NoError(t, err)

	keys, err := deriveInitialKeys(dcid)
	require.NoError(t, err)

	require.Equal(t, "9f50449e04a0e810283a1e9933adedd2", hex.EncodeToString(keys.hp))
	require.Equal(t, "1f369613dd76d5467730efcbe3b1a22d", hex.EncodeToString(keys.key))
	require.Equal(t, "fa044b2f42a3fd3b46fb255c", hex.EncodeToString(keys.iv))
}
