package tls

import (
	"crypto/hmac"
	"encoding/binary"
	"hash"
)

// nullCipherSuite is the state of a freshly constructed cipher spec: no
// encryption, no MAC, until negotiation populates a pending spec.
var nullCipherSuite = &cipherSuite{code: 0}

// cipherSpec binds one direction's negotiated suite to its derived key
// material and running cipher context.
type cipherSpec struct {
	suite *cipherSuite
	// cipher is the bulk cipher context, nil for the null cipher. For
	// TLS 1.0 the chaining state doubles as the implicit IV.
	cipher cbcMode
	// mac is the keyed HMAC context, nil for the null suite.
	mac hash.Hash
	// version the spec was keyed for; fixes IV handling.
	version uint16
}

func newNullCipherSpec() *cipherSpec {
	return &cipherSpec{suite: nullCipherSuite}
}

func (cs *cipherSpec) isNull() bool {
	return cs.suite == nullCipherSuite
}

// setKey initializes cipher and MAC state from one direction's slice of
// the key block.
func (cs *cipherSpec) setKey(version uint16, km keyMaterial, encrypt bool) {
	cs.version = version
	if cs.suite.macLen > 0 {
		cs.mac = hmac.New(cs.suite.newHash, km.macSecret)
	}
	if cs.suite.newCipher != nil {
		cs.cipher = cs.suite.newCipher(km.key, km.iv, encrypt)
	}
}

// computeMAC computes the record MAC over
// sequence_number || type || version || length || payload.
func (cs *cipherSpec) computeMAC(seq uint64, typ uint8, version uint16, payload []byte) []byte {
	var pseudo [13]byte
	binary.BigEndian.PutUint64(pseudo[0:], seq)
	pseudo[8] = typ
	binary.BigEndian.PutUint16(pseudo[9:], version)
	binary.BigEndian.PutUint16(pseudo[11:], uint16(len(payload)))

	cs.mac.Reset()
	cs.mac.Write(pseudo[:])
	cs.mac.Write(payload)
	return cs.mac.Sum(nil)
}

// explicitIV reports whether records carry a per-record IV. TLS 1.1
// introduced it; TLS 1.0 chains the CBC state across records.
func (cs *cipherSpec) explicitIV() bool {
	return cs.version >= VersionTLS11
}

// specPair is one direction's active/pending slot pair. TX and RX hold
// one each so the two directions can change cipher independently.
type specPair struct {
	active  *cipherSpec
	pending *cipherSpec
}

func newSpecPair() specPair {
	return specPair{active: newNullCipherSpec()}
}

// promote atomically swaps pending into active. It is an error to
// promote before negotiation has populated a pending spec; the caller
// treats that as a fatal ChangeCipherSpec violation.
func (p *specPair) promote() bool {
	if p.pending == nil || p.pending.isNull() {
		return false
	}
	p.active = p.pending
	p.pending = nil
	return true
}
