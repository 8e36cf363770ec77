// Package tls implements the client side of the TLS protocol, versions
// 1.0 through 1.2, for constrained network-boot environments. It turns a
// raw bidirectional byte stream into an authenticated, encrypted
// bidirectional byte stream: record framing, the handshake state machine,
// and the cipher-spec/key-schedule subsystem live here. Concrete
// cryptographic primitives, X.509 chain building and the underlying
// transport are orchestrated through narrow interfaces, not implemented.
package tls

import (
	"crypto/rsa"
	"crypto/x509"
	"io"
	"time"

	"go.uber.org/zap"
)

// TLS protocol versions.
const (
	VersionTLS10 = 0x0301
	VersionTLS11 = 0x0302
	VersionTLS12 = 0x0303
)

// Record layer content types.
const (
	recordTypeChangeCipherSpec = 20
	recordTypeAlert            = 21
	recordTypeHandshake        = 22
	recordTypeApplicationData  = 23
)

// HandshakeType identifies a handshake-layer message.
type HandshakeType uint8

// Handshake message types.
const (
	typeHelloRequest       HandshakeType = 0
	typeClientHello        HandshakeType = 1
	typeServerHello        HandshakeType = 2
	typeCertificate        HandshakeType = 11
	typeServerKeyExchange  HandshakeType = 12
	typeCertificateRequest HandshakeType = 13
	typeServerHelloDone    HandshakeType = 14
	typeCertificateVerify  HandshakeType = 15
	typeClientKeyExchange  HandshakeType = 16
	typeFinished           HandshakeType = 20
)

// Supported cipher suite codes (network byte order).
const (
	TLS_RSA_WITH_NULL_MD5           = 0x0001
	TLS_RSA_WITH_NULL_SHA           = 0x0002
	TLS_RSA_WITH_AES_128_CBC_SHA    = 0x002f
	TLS_RSA_WITH_AES_256_CBC_SHA    = 0x0035
	TLS_RSA_WITH_AES_128_CBC_SHA256 = 0x003c
	TLS_RSA_WITH_AES_256_CBC_SHA256 = 0x003d
)

// Hash algorithm identifiers for the signature_algorithms extension.
const (
	hashMD5    = 1
	hashSHA1   = 2
	hashSHA256 = 4
)

// Signature algorithm identifiers for the signature_algorithms extension.
const (
	signatureRSA = 1
)

// Extension types.
const (
	extensionServerName          = 0
	extensionSignatureAlgorithms = 13
)

// Server name indication name types.
const (
	serverNameTypeHostName = 0
)

// Record size limits, RFC 5246 section 6.2.
const (
	recordHeaderLen    = 5
	maxPlaintextLen    = 1 << 14
	maxCiphertextLen   = maxPlaintextLen + 2048
	masterSecretLen    = 48
	preMasterRandomLen = 46
	finishedVerifyLen  = 12
	clientRandomLen    = 32
	serverRandomLen    = 32
)

// Config carries the client-side knobs for a session. The zero value is
// usable: it verifies against the system roots, offers TLS 1.0 through
// 1.2 and the default cipher suites.
type Config struct {
	// ServerName is the name the server certificate must be valid for.
	// It is also sent in the server_name extension.
	ServerName string

	// MinVersion is the minimum acceptable protocol version.
	// If zero, TLS 1.0 is used.
	MinVersion uint16

	// MaxVersion is the maximum (and offered) protocol version.
	// If zero, TLS 1.2 is used.
	MaxVersion uint16

	// CipherSuites lists the suites offered, in preference order.
	// If nil, a default list is used.
	CipherSuites []uint16

	// RootCAs is the pool used by the default certificate validator.
	// If nil, the system pool is used.
	RootCAs *x509.CertPool

	// InsecureSkipVerify disables certificate chain and hostname
	// verification. For tests only.
	InsecureSkipVerify bool

	// Validator overrides the certificate validation boundary. If nil,
	// an x509-based validator built from RootCAs is used.
	Validator CertificateValidator

	// ClientCert is the DER certificate chain sent in response to a
	// CertificateRequest. May be nil; an empty Certificate message is
	// sent instead.
	ClientCert [][]byte

	// ClientKey signs the CertificateVerify message when ClientCert is
	// configured and the server requests a certificate.
	ClientKey *rsa.PrivateKey

	// Rand supplies entropy. If nil, crypto/rand.Reader is used.
	Rand io.Reader

	// Time returns the current time for the client random and for
	// certificate validation. If nil, time.Now is used.
	Time func() time.Time

	// Logger receives structured handshake and teardown events.
	// If nil, logging is disabled.
	Logger *zap.Logger
}

func (c *Config) minVersion() uint16 {
	if c.MinVersion == 0 {
		return VersionTLS10
	}
	return c.MinVersion
}

func (c *Config) maxVersion() uint16 {
	if c.MaxVersion == 0 {
		return VersionTLS12
	}
	return c.MaxVersion
}

// supportedVersions returns the acceptable versions, lowest first.
func (c *Config) supportedVersions() []uint16 {
	var versions []uint16
	for v := c.minVersion(); v <= c.maxVersion(); v++ {
		switch v {
		case VersionTLS10, VersionTLS11, VersionTLS12:
			versions = append(versions, v)
		}
	}
	return versions
}

func (c *Config) versionSupported(v uint16) bool {
	for _, sv := range c.supportedVersions() {
		if sv == v {
			return true
		}
	}
	return false
}

func (c *Config) cipherSuites() []uint16 {
	if c.CipherSuites != nil {
		return c.CipherSuites
	}
	return defaultCipherSuites()
}

func (c *Config) time() time.Time {
	if c.Time != nil {
		return c.Time()
	}
	return time.Now()
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}
