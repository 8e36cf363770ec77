package tls

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/crypto/cryptobyte"
)

type bufConn struct {
	bytes.Buffer
}

func (c *bufConn) Close() error { return nil }

func newTestHandshake(config *Config) *clientHandshake {
	if config == nil {
		config = &Config{}
	}
	return newClientHandshake(Client(&bufConn{}, config))
}

func testServerHello(version, suite uint16) []byte {
	return handshakeMessage(typeServerHello, func(b *cryptobyte.Builder) {
		b.AddUint16(version)
		b.AddBytes(make([]byte, serverRandomLen))
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {})
		b.AddUint16(suite)
		b.AddUint8(0)
	})
}

func TestHelloRequestIgnored(t *testing.T) {
	hs := newTestHandshake(nil)
	before := hs.transcript.hash()

	hello := handshakeMessage(typeHelloRequest, func(b *cryptobyte.Builder) {})
	if err := hs.feedHandshake(hello); err != nil {
		t.Fatalf("feedHandshake: %v", err)
	}
	if hs.state != stateServerHello {
		t.Errorf("state = %d, want %d", hs.state, stateServerHello)
	}
	if !bytes.Equal(hs.transcript.hash(), before) {
		t.Error("HelloRequest entered the transcript")
	}
}

func TestServerHelloAdvancesState(t *testing.T) {
	hs := newTestHandshake(nil)
	msg := testServerHello(VersionTLS12, TLS_RSA_WITH_AES_128_CBC_SHA)
	if err := hs.feedHandshake(msg); err != nil {
		t.Fatalf("feedHandshake: %v", err)
	}
	if hs.state != stateCertificate {
		t.Errorf("state = %d, want %d", hs.state, stateCertificate)
	}
	if hs.version != VersionTLS12 {
		t.Errorf("version = %#04x, want %#04x", hs.version, VersionTLS12)
	}
	if hs.suite == nil || hs.suite.code != TLS_RSA_WITH_AES_128_CBC_SHA {
		t.Error("wrong suite selected")
	}
}

// A ServerHello may arrive split across many record payloads; the
// reassembled message must parse identically.
func TestFeedHandshakeFragmented(t *testing.T) {
	msg := testServerHello(VersionTLS12, TLS_RSA_WITH_AES_128_CBC_SHA)
	for _, size := range []int{1, 3, 5, 13} {
		hs := newTestHandshake(nil)
		for off := 0; off < len(msg); off += size {
			end := off + size
			if end > len(msg) {
				end = len(msg)
			}
			if err := hs.feedHandshake(msg[off:end]); err != nil {
				t.Fatalf("fragment size %d: %v", size, err)
			}
		}
		if hs.state != stateCertificate {
			t.Errorf("fragment size %d: state = %d, want %d", size, hs.state, stateCertificate)
		}
	}
}

// Two messages sharing one record payload are both processed.
func TestFeedHandshakeCoalesced(t *testing.T) {
	hs := newTestHandshake(nil)
	payload := append(
		handshakeMessage(typeHelloRequest, func(b *cryptobyte.Builder) {}),
		testServerHello(VersionTLS12, TLS_RSA_WITH_AES_128_CBC_SHA)...)
	if err := hs.feedHandshake(payload); err != nil {
		t.Fatalf("feedHandshake: %v", err)
	}
	if hs.state != stateCertificate {
		t.Errorf("state = %d, want %d", hs.state, stateCertificate)
	}
}

func TestOutOfOrderMessageRejected(t *testing.T) {
	hs := newTestHandshake(nil)
	fin := (&finishedMsg{verifyData: make([]byte, finishedVerifyLen)}).marshal()
	err := hs.feedHandshake(fin)
	var terr *Error
	if !errors.As(err, &terr) || terr.Alert != alertUnexpectedMessage {
		t.Fatalf("error = %v, want unexpected_message alert", err)
	}
}

func TestFinishedBeforeChangeCipherRejected(t *testing.T) {
	hs := newTestHandshake(nil)
	hs.state = stateServerFinished
	fin := (&finishedMsg{verifyData: make([]byte, finishedVerifyLen)}).marshal()
	err := hs.feedHandshake(fin)
	var terr *Error
	if !errors.As(err, &terr) || terr.Alert != alertUnexpectedMessage {
		t.Fatalf("error = %v, want unexpected_message alert", err)
	}
}

func TestOversizedHandshakeMessageRejected(t *testing.T) {
	hs := newTestHandshake(nil)
	// Header only: type 11, 24-bit length just past the limit.
	header := []byte{byte(typeCertificate), 0x01, 0x00, 0x00}
	err := hs.feedHandshake(header)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindDecode {
		t.Fatalf("error = %v, want decode error", err)
	}
}

func TestServerHelloVersionAboveOffered(t *testing.T) {
	hs := newTestHandshake(nil)
	msg := testServerHello(0x0304, TLS_RSA_WITH_AES_128_CBC_SHA)
	err := hs.feedHandshake(msg)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindNegotiation || terr.Alert != alertProtocolVersion {
		t.Fatalf("error = %v, want protocol_version negotiation error", err)
	}
}

func TestServerHelloVersionBelowMinimum(t *testing.T) {
	hs := newTestHandshake(&Config{MinVersion: VersionTLS12})
	msg := testServerHello(VersionTLS10, TLS_RSA_WITH_AES_128_CBC_SHA)
	err := hs.feedHandshake(msg)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindNegotiation {
		t.Fatalf("error = %v, want negotiation error", err)
	}
}

func TestServerHelloUnofferedSuite(t *testing.T) {
	hs := newTestHandshake(&Config{CipherSuites: []uint16{TLS_RSA_WITH_AES_256_CBC_SHA}})
	msg := testServerHello(VersionTLS12, TLS_RSA_WITH_AES_128_CBC_SHA)
	err := hs.feedHandshake(msg)
	var terr *Error
	if !errors.As(err, &terr) || terr.Alert != alertHandshakeFailure {
		t.Fatalf("error = %v, want handshake_failure alert", err)
	}
}

func testCertificateRequest(algs [][2]uint8) []byte {
	return handshakeMessage(typeCertificateRequest, func(b *cryptobyte.Builder) {
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8(1) // rsa_sign
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, a := range algs {
				b.AddUint8(a[0])
				b.AddUint8(a[1])
			}
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {})
	})
}

// advanceToCertificateRequest runs a handshake up to the point where a
// CertificateRequest is acceptable.
func advanceToCertificateRequest(t *testing.T, config *Config) *clientHandshake {
	t.Helper()
	pki := testCertChain(t)
	hs := newTestHandshake(config)
	if err := hs.feedHandshake(testServerHello(VersionTLS12, TLS_RSA_WITH_AES_128_CBC_SHA)); err != nil {
		t.Fatalf("ServerHello: %v", err)
	}
	cert := &certificateMsg{certificates: [][]byte{pki.leafDER, pki.caDER}}
	if err := hs.feedHandshake(cert.marshal()); err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	return hs
}

// The CertificateVerify algorithm comes from the server's advertised
// list, strongest supported entry first.
func TestCertificateRequestAlgorithmSelection(t *testing.T) {
	pki := testCertChain(t)
	config := &Config{RootCAs: pki.pool, ServerName: testServerName}

	hs := advanceToCertificateRequest(t, config)
	if hs.verifyHash.hash != hashSHA256 {
		t.Fatalf("default hash = %d, want %d", hs.verifyHash.hash, hashSHA256)
	}

	if err := hs.feedHandshake(testCertificateRequest([][2]uint8{{hashSHA1, signatureRSA}})); err != nil {
		t.Fatalf("CertificateRequest: %v", err)
	}
	if hs.verifyHash.hash != hashSHA1 {
		t.Errorf("selected hash = %d, want %d", hs.verifyHash.hash, hashSHA1)
	}
	if hs.verifyHash.crypto == 0 {
		t.Error("selected algorithm has no crypto.Hash binding")
	}
}

// A server list with no mutually supported algorithm is fatal only when
// the client would actually sign a CertificateVerify.
func TestCertificateRequestNoMutualAlgorithm(t *testing.T) {
	pki := testCertChain(t)
	unknown := [][2]uint8{{6, 3}} // sha512 + ecdsa, unsupported

	config := &Config{RootCAs: pki.pool, ServerName: testServerName}
	hs := advanceToCertificateRequest(t, config)
	if err := hs.feedHandshake(testCertificateRequest(unknown)); err != nil {
		t.Fatalf("CertificateRequest without a client credential: %v", err)
	}

	config = &Config{
		RootCAs:    pki.pool,
		ServerName: testServerName,
		ClientCert: [][]byte{pki.leafDER},
		ClientKey:  pki.leafKey,
	}
	hs = advanceToCertificateRequest(t, config)
	err := hs.feedHandshake(testCertificateRequest(unknown))
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindNegotiation || terr.Alert != alertHandshakeFailure {
		t.Fatalf("error = %v, want handshake_failure negotiation error", err)
	}
}

func TestSelectSignatureHash(t *testing.T) {
	if sh, ok := selectSignatureHash([][2]uint8{{hashSHA1, signatureRSA}, {hashSHA256, signatureRSA}}); !ok || sh.hash != hashSHA256 {
		t.Errorf("selected %v, want SHA-256 preferred", sh)
	}
	if sh, ok := selectSignatureHash([][2]uint8{{hashMD5, signatureRSA}}); !ok || sh.hash != hashMD5 {
		t.Errorf("selected %v, want MD5", sh)
	}
	if _, ok := selectSignatureHash([][2]uint8{{6, 3}}); ok {
		t.Error("unsupported pair matched")
	}
	if _, ok := selectSignatureHash(nil); ok {
		t.Error("empty list matched")
	}
}

func TestServerHelloNonNullCompression(t *testing.T) {
	hs := newTestHandshake(nil)
	msg := handshakeMessage(typeServerHello, func(b *cryptobyte.Builder) {
		b.AddUint16(VersionTLS12)
		b.AddBytes(make([]byte, serverRandomLen))
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {})
		b.AddUint16(TLS_RSA_WITH_AES_128_CBC_SHA)
		b.AddUint8(1)
	})
	if err := hs.feedHandshake(msg); err == nil {
		t.Fatal("compression method 1 accepted")
	}
}
