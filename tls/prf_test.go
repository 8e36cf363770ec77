package tls

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex in test data: %v", err)
	}
	return b
}

// TestPRF12KnownVector checks the TLS 1.2 SHA-256 PRF against the
// published "test label" vector.
func TestPRF12KnownVector(t *testing.T) {
	secret := mustHex(t, "9bbe436ba940f017b17652849a71db35")
	seed := mustHex(t, "a0ba9f936cda311827a6f796ffd5198c")
	expected := mustHex(t,
		"e3f229ba727be17b8d122620557cd453c2aab21d07c3d495329b52d4e61edb5a"+
			"6b301791e90d35c9c9a46b4e14baf9af0fa022f7077def17abfd3797c0564bab"+
			"4fbc91666e9def9b97fce34f796789baa48082d122ee42c5a72e5a5110fff701"+
			"87347b66")

	result := make([]byte, len(expected))
	prfForVersion(VersionTLS12)(result, secret, []byte("test label"), seed)

	if !bytes.Equal(result, expected) {
		t.Errorf("PRF output = %x, want %x", result, expected)
	}
}

func TestPRF10Deterministic(t *testing.T) {
	secret := mustHex(t, "0102030405060708090a0b0c0d0e0f101112131415161718")
	seed := []byte("seed bytes")

	a := make([]byte, 64)
	b := make([]byte, 64)
	prf10(a, secret, []byte("master secret"), seed)
	prf10(b, secret, []byte("master secret"), seed)
	if !bytes.Equal(a, b) {
		t.Error("prf10 is not deterministic")
	}

	c := make([]byte, 64)
	prf10(c, secret, []byte("key expansion"), seed)
	if bytes.Equal(a, c) {
		t.Error("prf10 output does not depend on the label")
	}

	d := make([]byte, 64)
	prfForVersion(VersionTLS12)(d, secret, []byte("master secret"), seed)
	if bytes.Equal(a, d) {
		t.Error("legacy and TLS 1.2 PRFs agree; they must not")
	}
}

func TestSplitSecret(t *testing.T) {
	tests := []struct {
		in     string
		s1, s2 string
	}{
		{"", "", ""},
		{"a", "a", "a"},
		{"ab", "a", "b"},
		{"abc", "ab", "bc"},
		{"abcd", "ab", "cd"},
	}
	for _, tt := range tests {
		s1, s2 := splitSecret([]byte(tt.in))
		if string(s1) != tt.s1 || string(s2) != tt.s2 {
			t.Errorf("splitSecret(%q) = %q, %q, want %q, %q",
				tt.in, s1, s2, tt.s1, tt.s2)
		}
	}
}

// TestKeyFreshness: independent handshakes with the same suite but
// different randoms must derive different master secrets and key
// blocks.
func TestKeyFreshness(t *testing.T) {
	preMaster := mustHex(t, "0303"+"101112131415161718191a1b1c1d1e1f"+
		"202122232425262728292a2b2c2d2e2f"+"303132333435363738393a3b3c3d")
	suite := suiteByCode(TLS_RSA_WITH_AES_128_CBC_SHA)

	clientRandom1 := bytes.Repeat([]byte{0x11}, clientRandomLen)
	clientRandom2 := bytes.Repeat([]byte{0x22}, clientRandomLen)
	serverRandom := bytes.Repeat([]byte{0x33}, serverRandomLen)

	ks1 := newKeySchedule(VersionTLS12, clientRandom1, serverRandom)
	ks2 := newKeySchedule(VersionTLS12, clientRandom2, serverRandom)
	ks1.deriveMasterSecret(preMaster)
	ks2.deriveMasterSecret(preMaster)

	if len(ks1.masterSecret) != masterSecretLen {
		t.Fatalf("master secret length = %d, want %d", len(ks1.masterSecret), masterSecretLen)
	}
	if bytes.Equal(ks1.masterSecret, ks2.masterSecret) {
		t.Error("different client randoms derived the same master secret")
	}

	c1, s1 := ks1.deriveKeyBlock(suite)
	c2, s2 := ks2.deriveKeyBlock(suite)
	if bytes.Equal(c1.key, c2.key) || bytes.Equal(s1.key, s2.key) {
		t.Error("different handshakes derived the same bulk keys")
	}
}

// TestKeyBlockLayout checks the fixed slicing order:
// client_mac || server_mac || client_key || server_key || client_iv || server_iv.
func TestKeyBlockLayout(t *testing.T) {
	suite := suiteByCode(TLS_RSA_WITH_AES_128_CBC_SHA)
	clientRandom := bytes.Repeat([]byte{0x01}, clientRandomLen)
	serverRandom := bytes.Repeat([]byte{0x02}, serverRandomLen)

	ks := newKeySchedule(VersionTLS12, clientRandom, serverRandom)
	ks.masterSecret = bytes.Repeat([]byte{0x55}, masterSecretLen)

	client, server := ks.deriveKeyBlock(suite)
	if len(client.macSecret) != suite.macLen || len(server.macSecret) != suite.macLen {
		t.Errorf("MAC secret lengths = %d/%d, want %d",
			len(client.macSecret), len(server.macSecret), suite.macLen)
	}
	if len(client.key) != suite.keyLen || len(server.key) != suite.keyLen {
		t.Errorf("key lengths = %d/%d, want %d", len(client.key), len(server.key), suite.keyLen)
	}
	if len(client.iv) != suite.ivLen || len(server.iv) != suite.ivLen {
		t.Errorf("IV lengths = %d/%d, want %d", len(client.iv), len(server.iv), suite.ivLen)
	}

	// Reproduce the raw expansion and compare the concatenation.
	seed := append(append([]byte{}, serverRandom...), clientRandom...)
	raw := make([]byte, suite.keyBlockLen())
	prfForVersion(VersionTLS12)(raw, ks.masterSecret, []byte(labelKeyExpansion), seed)

	var joined []byte
	for _, part := range [][]byte{client.macSecret, server.macSecret,
		client.key, server.key, client.iv, server.iv} {
		joined = append(joined, part...)
	}
	if !bytes.Equal(joined, raw) {
		t.Error("key block slices do not reassemble into the PRF output")
	}
}

func TestFinishedVerifyData(t *testing.T) {
	ks := newKeySchedule(VersionTLS12,
		bytes.Repeat([]byte{0x01}, clientRandomLen),
		bytes.Repeat([]byte{0x02}, serverRandomLen))
	ks.masterSecret = bytes.Repeat([]byte{0x77}, masterSecretLen)

	hash := bytes.Repeat([]byte{0xaa}, 32)
	client := ks.finishedVerifyData(hash, true)
	server := ks.finishedVerifyData(hash, false)

	if len(client) != finishedVerifyLen || len(server) != finishedVerifyLen {
		t.Fatalf("verify data lengths = %d/%d, want %d",
			len(client), len(server), finishedVerifyLen)
	}
	if bytes.Equal(client, server) {
		t.Error("client and server Finished labels derived identical verify data")
	}
}
