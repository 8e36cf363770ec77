package tls

import (
	"golang.org/x/crypto/cryptobyte"
)

// handshakeMessage assembles the 4-byte handshake header (type plus
// 24-bit length) around a body builder.
func handshakeMessage(typ HandshakeType, body func(*cryptobyte.Builder)) []byte {
	var b cryptobyte.Builder
	b.AddUint8(uint8(typ))
	b.AddUint24LengthPrefixed(body)
	return b.BytesOrPanic()
}

type clientHelloMsg struct {
	version            uint16
	random             []byte
	sessionID          []byte
	cipherSuites       []uint16
	compressionMethods []uint8
	serverName         string
	signatureHashes    []signatureHash
}

func (m *clientHelloMsg) marshal() []byte {
	return handshakeMessage(typeClientHello, func(b *cryptobyte.Builder) {
		b.AddUint16(m.version)
		b.AddBytes(m.random)
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(m.sessionID)
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, suite := range m.cipherSuites {
				b.AddUint16(suite)
			}
		})
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(m.compressionMethods)
		})
		if m.serverName == "" && len(m.signatureHashes) == 0 {
			return
		}
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			if m.serverName != "" {
				b.AddUint16(extensionServerName)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(serverNameTypeHostName)
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes([]byte(m.serverName))
						})
					})
				})
			}
			if len(m.signatureHashes) > 0 {
				b.AddUint16(extensionSignatureAlgorithms)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						for _, sh := range m.signatureHashes {
							b.AddUint8(sh.hash)
							b.AddUint8(sh.signature)
						}
					})
				})
			}
		})
	})
}

type serverHelloMsg struct {
	version           uint16
	random            []byte
	sessionID         []byte
	cipherSuite       uint16
	compressionMethod uint8
}

// parseServerHello decodes a ServerHello body. Extensions are framed
// but otherwise ignored; none of the supported features require them.
func parseServerHello(data []byte) (*serverHelloMsg, error) {
	s := cryptobyte.String(data)
	m := new(serverHelloMsg)

	var random []byte
	var sessionID cryptobyte.String
	if !s.ReadUint16(&m.version) ||
		!s.ReadBytes(&random, serverRandomLen) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16(&m.cipherSuite) ||
		!s.ReadUint8(&m.compressionMethod) {
		return nil, decodeError("malformed ServerHello")
	}
	m.random = random
	m.sessionID = sessionID

	if s.Empty() {
		return m, nil
	}
	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return nil, decodeError("malformed ServerHello extensions")
	}
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) ||
			!extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, decodeError("malformed ServerHello extension")
		}
	}
	return m, nil
}

type certificateMsg struct {
	certificates [][]byte
}

// parseCertificate decodes a Certificate body into the DER chain, leaf
// first.
func parseCertificate(data []byte) (*certificateMsg, error) {
	s := cryptobyte.String(data)
	m := new(certificateMsg)

	var chain cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&chain) || !s.Empty() {
		return nil, decodeError("malformed Certificate")
	}
	for !chain.Empty() {
		var cert []byte
		if !chain.ReadUint24LengthPrefixed((*cryptobyte.String)(&cert)) {
			return nil, decodeError("malformed Certificate entry")
		}
		m.certificates = append(m.certificates, cert)
	}
	return m, nil
}

func (m *certificateMsg) marshal() []byte {
	return handshakeMessage(typeCertificate, func(b *cryptobyte.Builder) {
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, cert := range m.certificates {
				b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(cert)
				})
			}
		})
	})
}

type certificateRequestMsg struct {
	certificateTypes []uint8
	// signatureHashes is the server's advertised {hash, signature}
	// pairs, TLS 1.2 only, in its preference order.
	signatureHashes [][2]uint8
}

// parseCertificateRequest decodes a CertificateRequest. The requested
// types and CA names do not constrain the response beyond "send the
// configured chain or an empty one"; the signature algorithm list does
// constrain CertificateVerify and is retained.
func parseCertificateRequest(version uint16, data []byte) (*certificateRequestMsg, error) {
	s := cryptobyte.String(data)
	m := new(certificateRequestMsg)

	var types cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&types) {
		return nil, decodeError("malformed CertificateRequest")
	}
	m.certificateTypes = types

	if version >= VersionTLS12 {
		var sigAlgs cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&sigAlgs) || len(sigAlgs)%2 != 0 {
			return nil, decodeError("malformed CertificateRequest signature algorithms")
		}
		for !sigAlgs.Empty() {
			var hashID, sigID uint8
			sigAlgs.ReadUint8(&hashID)
			sigAlgs.ReadUint8(&sigID)
			m.signatureHashes = append(m.signatureHashes, [2]uint8{hashID, sigID})
		}
	}
	var authorities cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&authorities) || !s.Empty() {
		return nil, decodeError("malformed CertificateRequest authorities")
	}
	return m, nil
}

// parseServerHelloDone checks the body is empty.
func parseServerHelloDone(data []byte) error {
	if len(data) != 0 {
		return decodeError("ServerHelloDone with %d-byte body", len(data))
	}
	return nil
}

type clientKeyExchangeMsg struct {
	encryptedPreMasterSecret []byte
}

func (m *clientKeyExchangeMsg) marshal() []byte {
	return handshakeMessage(typeClientKeyExchange, func(b *cryptobyte.Builder) {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(m.encryptedPreMasterSecret)
		})
	})
}

type certificateVerifyMsg struct {
	hasSignatureHash bool
	signatureHash    signatureHash
	signature        []byte
}

func (m *certificateVerifyMsg) marshal() []byte {
	return handshakeMessage(typeCertificateVerify, func(b *cryptobyte.Builder) {
		if m.hasSignatureHash {
			b.AddUint8(m.signatureHash.hash)
			b.AddUint8(m.signatureHash.signature)
		}
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(m.signature)
		})
	})
}

type finishedMsg struct {
	verifyData []byte
}

func (m *finishedMsg) marshal() []byte {
	return handshakeMessage(typeFinished, func(b *cryptobyte.Builder) {
		b.AddBytes(m.verifyData)
	})
}

func parseFinished(data []byte) (*finishedMsg, error) {
	if len(data) != finishedVerifyLen {
		return nil, decodeError("Finished with %d-byte body", len(data))
	}
	return &finishedMsg{verifyData: data}, nil
}
