package tls

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// PRF labels, RFC 5246 sections 8.1 and 7.4.9.
const (
	labelMasterSecret   = "master secret"
	labelKeyExpansion   = "key expansion"
	labelClientFinished = "client finished"
	labelServerFinished = "server finished"
)

// pHash implements P_hash, RFC 5246 section 5: HMAC expansion of
// secret/seed until result is full.
func pHash(result, secret, seed []byte, hashFunc func() hash.Hash) {
	h := hmac.New(hashFunc, secret)
	h.Write(seed)
	a := h.Sum(nil)

	j := 0
	for j < len(result) {
		h.Reset()
		h.Write(a)
		h.Write(seed)
		b := h.Sum(nil)
		copy(result[j:], b)
		j += len(b)

		h.Reset()
		h.Write(a)
		a = h.Sum(nil)
	}
}

// splitSecret halves a secret as specified in RFC 4346 section 5. The
// halves overlap by one byte when the length is odd.
func splitSecret(secret []byte) (s1, s2 []byte) {
	s1 = secret[0 : (len(secret)+1)/2]
	s2 = secret[len(secret)/2:]
	return
}

// prf10 is the TLS 1.0/1.1 PRF: P_MD5 of the first half of the secret
// XORed with P_SHA1 of the second half.
func prf10(result, secret, label, seed []byte) {
	labelAndSeed := make([]byte, len(label)+len(seed))
	copy(labelAndSeed, label)
	copy(labelAndSeed[len(label):], seed)

	s1, s2 := splitSecret(secret)
	pHash(result, s1, labelAndSeed, md5.New)
	result2 := make([]byte, len(result))
	pHash(result2, s2, labelAndSeed, sha1.New)

	for i, b := range result2 {
		result[i] ^= b
	}
}

// prf12 is the TLS 1.2 PRF over the given digest.
func prf12(hashFunc func() hash.Hash) func(result, secret, label, seed []byte) {
	return func(result, secret, label, seed []byte) {
		labelAndSeed := make([]byte, len(label)+len(seed))
		copy(labelAndSeed, label)
		copy(labelAndSeed[len(label):], seed)

		pHash(result, secret, labelAndSeed, hashFunc)
	}
}

// prfForVersion selects the key-derivation PRF. Every supported TLS 1.2
// suite uses the SHA-256 PRF.
func prfForVersion(version uint16) func(result, secret, label, seed []byte) {
	if version >= VersionTLS12 {
		return prf12(sha256.New)
	}
	return prf10
}

// keySchedule derives the master secret and key block for one handshake.
// The randoms are fixed at construction; the master secret is derived
// once and never recomputed.
type keySchedule struct {
	version      uint16
	masterSecret []byte
	clientRandom []byte
	serverRandom []byte
}

func newKeySchedule(version uint16, clientRandom, serverRandom []byte) *keySchedule {
	ks := &keySchedule{
		version:      version,
		clientRandom: make([]byte, len(clientRandom)),
		serverRandom: make([]byte, len(serverRandom)),
	}
	copy(ks.clientRandom, clientRandom)
	copy(ks.serverRandom, serverRandom)
	return ks
}

// deriveMasterSecret computes
// PRF(pre_master_secret, "master secret", client_random || server_random)[0..47].
func (ks *keySchedule) deriveMasterSecret(preMasterSecret []byte) {
	seed := make([]byte, 0, len(ks.clientRandom)+len(ks.serverRandom))
	seed = append(seed, ks.clientRandom...)
	seed = append(seed, ks.serverRandom...)

	ks.masterSecret = make([]byte, masterSecretLen)
	prfForVersion(ks.version)(ks.masterSecret, preMasterSecret, []byte(labelMasterSecret), seed)
}

// keyMaterial is one direction's slice of the key block.
type keyMaterial struct {
	macSecret []byte
	key       []byte
	iv        []byte
}

// deriveKeyBlock expands the master secret into both directions' key
// material. The seed order is reversed relative to the master secret:
// server_random || client_random.
func (ks *keySchedule) deriveKeyBlock(suite *cipherSuite) (client, server keyMaterial) {
	seed := make([]byte, 0, len(ks.serverRandom)+len(ks.clientRandom))
	seed = append(seed, ks.serverRandom...)
	seed = append(seed, ks.clientRandom...)

	keyBlock := make([]byte, suite.keyBlockLen())
	prfForVersion(ks.version)(keyBlock, ks.masterSecret, []byte(labelKeyExpansion), seed)

	client.macSecret, keyBlock = keyBlock[:suite.macLen], keyBlock[suite.macLen:]
	server.macSecret, keyBlock = keyBlock[:suite.macLen], keyBlock[suite.macLen:]
	client.key, keyBlock = keyBlock[:suite.keyLen], keyBlock[suite.keyLen:]
	server.key, keyBlock = keyBlock[:suite.keyLen], keyBlock[suite.keyLen:]
	client.iv, keyBlock = keyBlock[:suite.ivLen], keyBlock[suite.ivLen:]
	server.iv = keyBlock[:suite.ivLen]
	return client, server
}

// finishedVerifyData computes the 12-byte Finished payload over a
// finalized transcript hash.
func (ks *keySchedule) finishedVerifyData(transcriptHash []byte, client bool) []byte {
	label := labelServerFinished
	if client {
		label = labelClientFinished
	}
	out := make([]byte, finishedVerifyLen)
	prfForVersion(ks.version)(out, ks.masterSecret, []byte(label), transcriptHash)
	return out
}
