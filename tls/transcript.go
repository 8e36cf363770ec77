package tls

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// transcript accumulates every handshake-layer byte sent or received.
// All three digests run for the whole handshake: the negotiated version
// selects which of them feed the PRF (MD5||SHA-1 below TLS 1.2, SHA-256
// at 1.2), while CertificateVerify may sign any single one of them.
type transcript struct {
	md5    hash.Hash
	sha1   hash.Hash
	sha256 hash.Hash

	// modern is set once at negotiation and never changed after.
	selected bool
	modern   bool
}

func newTranscript() *transcript {
	return &transcript{
		md5:    md5.New(),
		sha1:   sha1.New(),
		sha256: sha256.New(),
	}
}

func (t *transcript) add(data []byte) {
	t.md5.Write(data)
	t.sha1.Write(data)
	t.sha256.Write(data)
}

// selectVersion switches to single-hash mode if and only if the
// negotiated version is 1.2 or above.
func (t *transcript) selectVersion(version uint16) {
	t.selected = true
	t.modern = version >= VersionTLS12
}

// hash finalizes the running digest without disturbing it: 36 bytes of
// MD5||SHA-1 in legacy mode, 32 bytes of SHA-256 in modern mode.
func (t *transcript) hash() []byte {
	if t.selected && t.modern {
		return t.sha256.Sum(nil)
	}
	out := t.md5.Sum(nil)
	return t.sha1.Sum(out)
}

// hashFor finalizes the single digest identified by a signature_algorithms
// hash code, for CertificateVerify signing. Nil for unknown codes.
func (t *transcript) hashFor(algo uint8) []byte {
	switch algo {
	case hashMD5:
		return t.md5.Sum(nil)
	case hashSHA1:
		return t.sha1.Sum(nil)
	case hashSHA256:
		return t.sha256.Sum(nil)
	default:
		return nil
	}
}
