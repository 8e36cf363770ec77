package tls

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"go.uber.org/zap"
)

// txPending is the set of handshake transmissions still owed. Each kind
// is emitted at most once per handshake and ordering between kinds is
// fixed by protocol rules, so a bit set suffices.
type txPending uint

const (
	txClientHello txPending = 1 << iota
	txCertificate
	txClientKeyExchange
	txCertificateVerify
	txChangeCipher
	txFinished
)

// txOrder is the mandated emission order, independent of scheduling
// order.
var txOrder = []txPending{
	txClientHello,
	txCertificate,
	txClientKeyExchange,
	txCertificateVerify,
	txChangeCipher,
	txFinished,
}

// hsState is the strictly ordered "expected next incoming message"
// state of the receive side.
type hsState int

const (
	stateServerHello hsState = iota
	stateCertificate
	stateServerHelloDone
	stateServerFinished
	stateEstablished
)

// maxHandshakeLen bounds a single reassembled handshake message.
const maxHandshakeLen = 1 << 16

// clientHandshake drives one handshake on behalf of a session: message
// scheduling, transcript hashing and negotiation.
type clientHandshake struct {
	sess   *Session
	logger *zap.Logger

	transcript *transcript
	ks         *keySchedule

	offeredVersion uint16
	version        uint16
	suite          *cipherSuite
	clientRandom   []byte
	serverRandom   []byte
	serverKey      *rsa.PublicKey
	chain          [][]byte
	verifyHash     signatureHash

	state         hsState
	skeSeen       bool
	certRequested bool
	peerCCS       bool
	established   bool

	pending txPending
	rxBuf   []byte
}

func newClientHandshake(s *Session) *clientHandshake {
	return &clientHandshake{
		sess:           s,
		logger:         s.logger,
		transcript:     newTranscript(),
		offeredVersion: s.config.maxVersion(),
		state:          stateServerHello,
	}
}

func (hs *clientHandshake) schedule(bits txPending) {
	hs.pending |= bits
}

// transmitNext emits exactly one pending message, in protocol order.
// The caller invokes it once per scheduling opportunity.
func (hs *clientHandshake) transmitNext() error {
	for _, bit := range txOrder {
		if hs.pending&bit == 0 {
			continue
		}
		hs.pending &^= bit
		switch bit {
		case txClientHello:
			return hs.sendClientHello()
		case txCertificate:
			return hs.sendCertificate()
		case txClientKeyExchange:
			return hs.sendClientKeyExchange()
		case txCertificateVerify:
			return hs.sendCertificateVerify()
		case txChangeCipher:
			return hs.sendChangeCipher()
		case txFinished:
			return hs.sendFinished()
		}
	}
	return nil
}

func (hs *clientHandshake) rand() io.Reader {
	if hs.sess.config.Rand != nil {
		return hs.sess.config.Rand
	}
	return rand.Reader
}

// sendHandshake writes one marshalled message and feeds the transcript.
func (hs *clientHandshake) sendHandshake(msg []byte) error {
	hs.transcript.add(msg)
	return hs.sess.rl.send(recordTypeHandshake, msg)
}

func (hs *clientHandshake) sendClientHello() error {
	random := make([]byte, clientRandomLen)
	binary.BigEndian.PutUint32(random, uint32(hs.sess.config.time().Unix()))
	if _, err := io.ReadFull(hs.rand(), random[4:]); err != nil {
		return allocationError("generating client random", err)
	}
	hs.clientRandom = random

	msg := &clientHelloMsg{
		version:            hs.offeredVersion,
		random:             random,
		cipherSuites:       hs.sess.config.cipherSuites(),
		compressionMethods: []uint8{0},
		serverName:         hs.sess.config.ServerName,
	}
	if hs.offeredVersion >= VersionTLS12 {
		msg.signatureHashes = supportedSignatureHashes
	}

	hs.logger.Debug("sending ClientHello",
		zap.Uint16("version", hs.offeredVersion),
		zap.Int("cipher_suites", len(msg.cipherSuites)))
	return hs.sendHandshake(msg.marshal())
}

func (hs *clientHandshake) sendCertificate() error {
	msg := &certificateMsg{certificates: hs.sess.config.ClientCert}
	hs.logger.Debug("sending Certificate", zap.Int("chain_len", len(msg.certificates)))
	return hs.sendHandshake(msg.marshal())
}

func (hs *clientHandshake) sendClientKeyExchange() error {
	// The premaster version field carries the offered version, not the
	// negotiated one, so a rolled-back ServerHello cannot go unnoticed.
	preMaster := make([]byte, 2+preMasterRandomLen)
	binary.BigEndian.PutUint16(preMaster, hs.offeredVersion)
	if _, err := io.ReadFull(hs.rand(), preMaster[2:]); err != nil {
		return allocationError("generating premaster secret", err)
	}

	encrypted, err := rsa.EncryptPKCS1v15(hs.rand(), hs.serverKey, preMaster)
	if err != nil {
		return allocationError("encrypting premaster secret", err)
	}
	msg := &clientKeyExchangeMsg{encryptedPreMasterSecret: encrypted}
	if err := hs.sendHandshake(msg.marshal()); err != nil {
		return err
	}

	hs.ks.deriveMasterSecret(preMaster)
	for i := range preMaster {
		preMaster[i] = 0
	}

	client, server := hs.ks.deriveKeyBlock(hs.suite)
	hs.sess.rl.tx.pending.setKey(hs.version, client, true)
	hs.sess.rl.rx.pending.setKey(hs.version, server, false)

	hs.logger.Debug("derived master secret and key block",
		zap.Uint16("cipher_suite", hs.suite.code))
	return nil
}

func (hs *clientHandshake) sendCertificateVerify() error {
	key := hs.sess.config.ClientKey
	msg := &certificateVerifyMsg{}
	var err error
	if hs.version >= VersionTLS12 {
		msg.hasSignatureHash = true
		msg.signatureHash = hs.verifyHash
		msg.signature, err = rsa.SignPKCS1v15(hs.rand(), key,
			hs.verifyHash.crypto, hs.transcript.hashFor(hs.verifyHash.hash))
	} else {
		// Legacy form: raw MD5||SHA-1 of the transcript, no DigestInfo.
		msg.signature, err = rsa.SignPKCS1v15(hs.rand(), key,
			crypto.MD5SHA1, hs.transcript.hash())
	}
	if err != nil {
		return allocationError("signing CertificateVerify", err)
	}
	hs.logger.Debug("sending CertificateVerify")
	return hs.sendHandshake(msg.marshal())
}

func (hs *clientHandshake) sendChangeCipher() error {
	if err := hs.sess.rl.send(recordTypeChangeCipherSpec, []byte{1}); err != nil {
		return err
	}
	if !hs.sess.rl.changeCipherTx() {
		return &Error{Kind: KindNegotiation, Alert: alertInternalError,
			Message: "no pending TX cipher spec to promote"}
	}
	hs.logger.Debug("TX cipher spec promoted")
	return nil
}

func (hs *clientHandshake) sendFinished() error {
	verify := hs.ks.finishedVerifyData(hs.transcript.hash(), true)
	msg := &finishedMsg{verifyData: verify}
	hs.logger.Debug("sending Finished")
	return hs.sendHandshake(msg.marshal())
}

// feedHandshake reassembles handshake messages from record payloads;
// messages may span several records or share one.
func (hs *clientHandshake) feedHandshake(payload []byte) error {
	hs.rxBuf = append(hs.rxBuf, payload...)
	for len(hs.rxBuf) >= 4 {
		bodyLen := int(hs.rxBuf[1])<<16 | int(hs.rxBuf[2])<<8 | int(hs.rxBuf[3])
		total := 4 + bodyLen
		if total > maxHandshakeLen {
			return decodeError("handshake message of %d bytes", bodyLen)
		}
		if len(hs.rxBuf) < total {
			return nil
		}
		raw := hs.rxBuf[:total:total]
		hs.rxBuf = hs.rxBuf[total:]
		if err := hs.processMessage(HandshakeType(raw[0]), raw[4:], raw); err != nil {
			return err
		}
	}
	return nil
}

func (hs *clientHandshake) processMessage(typ HandshakeType, body, raw []byte) error {
	// A HelloRequest may arrive at any time; it is excluded from the
	// transcript and, renegotiation being unsupported, ignored.
	if typ == typeHelloRequest {
		hs.logger.Debug("ignoring HelloRequest")
		return nil
	}

	switch hs.state {
	case stateServerHello:
		if typ != typeServerHello {
			return unexpectedMessageError("expected ServerHello, got message type %d", typ)
		}
		hs.transcript.add(raw)
		return hs.processServerHello(body)

	case stateCertificate:
		if typ != typeCertificate {
			return unexpectedMessageError("expected Certificate, got message type %d", typ)
		}
		hs.transcript.add(raw)
		return hs.processCertificate(body)

	case stateServerHelloDone:
		switch typ {
		case typeServerKeyExchange:
			if hs.skeSeen || hs.certRequested {
				return unexpectedMessageError("ServerKeyExchange out of order")
			}
			// RSA key exchange carries everything in the certificate;
			// the message is recorded and otherwise ignored.
			hs.skeSeen = true
			hs.transcript.add(raw)
			return nil
		case typeCertificateRequest:
			if hs.certRequested {
				return unexpectedMessageError("duplicate CertificateRequest")
			}
			hs.transcript.add(raw)
			msg, err := parseCertificateRequest(hs.version, body)
			if err != nil {
				return err
			}
			hs.certRequested = true
			if hs.version >= VersionTLS12 && len(msg.signatureHashes) > 0 {
				sh, ok := selectSignatureHash(msg.signatureHashes)
				if ok {
					hs.verifyHash = sh
				} else if hs.sess.config.ClientKey != nil && len(hs.sess.config.ClientCert) > 0 {
					return negotiationError(alertHandshakeFailure,
						"no mutually supported CertificateVerify algorithm")
				}
			}
			hs.logger.Debug("server requested a client certificate")
			return nil
		case typeServerHelloDone:
			hs.transcript.add(raw)
			return hs.processServerHelloDone(body)
		default:
			return unexpectedMessageError("expected ServerHelloDone, got message type %d", typ)
		}

	case stateServerFinished:
		if typ != typeFinished {
			return unexpectedMessageError("expected Finished, got message type %d", typ)
		}
		if !hs.peerCCS {
			return unexpectedMessageError("Finished before ChangeCipherSpec")
		}
		return hs.processServerFinished(body, raw)

	default:
		return unexpectedMessageError("handshake message type %d after establishment", typ)
	}
}

func (hs *clientHandshake) processServerHello(body []byte) error {
	msg, err := parseServerHello(body)
	if err != nil {
		return err
	}

	// Only a downgrade to a version and suite we actually offered is
	// acceptable; anything else the server claims is fatal.
	if msg.version > hs.offeredVersion || !hs.sess.config.versionSupported(msg.version) {
		return negotiationError(alertProtocolVersion,
			"server selected version %#04x, offered %#04x",
			msg.version, hs.offeredVersion)
	}
	var suite *cipherSuite
	for _, code := range hs.sess.config.cipherSuites() {
		if code == msg.cipherSuite {
			suite = suiteByCode(code)
			break
		}
	}
	if suite == nil {
		return negotiationError(alertHandshakeFailure,
			"server selected unoffered cipher suite %#04x", msg.cipherSuite)
	}
	if msg.compressionMethod != 0 {
		return negotiationError(alertIllegalParameter,
			"server selected compression method %d", msg.compressionMethod)
	}

	hs.version = msg.version
	hs.suite = suite
	hs.serverRandom = msg.random
	hs.transcript.selectVersion(msg.version)
	hs.ks = newKeySchedule(msg.version, hs.clientRandom, hs.serverRandom)
	hs.sess.rl.version = msg.version
	hs.sess.rl.tx.pending = &cipherSpec{suite: suite}
	hs.sess.rl.rx.pending = &cipherSpec{suite: suite}
	hs.state = stateCertificate

	hs.logger.Debug("negotiated",
		zap.Uint16("version", msg.version),
		zap.Uint16("cipher_suite", suite.code))
	return nil
}

func (hs *clientHandshake) processCertificate(body []byte) error {
	msg, err := parseCertificate(body)
	if err != nil {
		return err
	}
	validator := hs.sess.config.Validator
	if validator == nil {
		validator = newX509Validator(hs.sess.config)
	}
	pub, err := validator.Validate(msg.certificates, hs.sess.config.ServerName)
	if err != nil {
		if _, ok := err.(*Error); ok {
			return err
		}
		return authError(alertBadCertificate, "certificate validation failed", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return negotiationError(alertUnsupportedCertificate,
			"validator returned a %T, need *rsa.PublicKey", pub)
	}
	hs.serverKey = rsaKey
	hs.chain = msg.certificates
	hs.verifyHash = supportedSignatureHashes[0]
	hs.state = stateServerHelloDone

	hs.logger.Debug("server certificate chain validated",
		zap.Int("chain_len", len(msg.certificates)))
	return nil
}

func (hs *clientHandshake) processServerHelloDone(body []byte) error {
	if err := parseServerHelloDone(body); err != nil {
		return err
	}
	flight := txClientKeyExchange | txChangeCipher | txFinished
	if hs.certRequested {
		flight |= txCertificate
		if hs.sess.config.ClientKey != nil && len(hs.sess.config.ClientCert) > 0 {
			flight |= txCertificateVerify
		}
	}
	hs.schedule(flight)
	hs.state = stateServerFinished
	return nil
}

func (hs *clientHandshake) processServerFinished(body, raw []byte) error {
	msg, err := parseFinished(body)
	if err != nil {
		return err
	}
	// The server's Finished covers the transcript up to and excluding
	// itself, so verify before absorbing the message.
	expected := hs.ks.finishedVerifyData(hs.transcript.hash(), false)
	if subtle.ConstantTimeCompare(expected, msg.verifyData) != 1 {
		return authError(alertDecryptError, "server Finished verification failed", nil)
	}
	hs.transcript.add(raw)
	hs.state = stateEstablished
	hs.established = true
	hs.logger.Debug("handshake established")
	return nil
}

// changeCipherSpec handles an incoming ChangeCipherSpec record.
func (hs *clientHandshake) changeCipherSpec(payload []byte) error {
	if len(payload) != 1 || payload[0] != 1 {
		return decodeError("malformed ChangeCipherSpec record")
	}
	if hs.state != stateServerFinished || hs.peerCCS {
		return unexpectedMessageError("ChangeCipherSpec out of order")
	}
	if !hs.sess.rl.changeCipherRx() {
		return unexpectedMessageError("ChangeCipherSpec with no pending RX cipher spec")
	}
	hs.peerCCS = true
	hs.logger.Debug("RX cipher spec promoted")
	return nil
}
