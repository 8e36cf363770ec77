package tls

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is a client-side TLS session over a ciphertext transport. It
// owns one record layer, one handshake state machine and both
// cipher-spec pairs, and exposes the plaintext side through Read, Write
// and Close. Readiness is withheld until the handshake succeeds: the
// first Read or Write runs the handshake if Handshake was not called
// explicitly.
type Session struct {
	config *Config
	conn   io.ReadWriteCloser
	id     string
	logger *zap.Logger

	rl *recordLayer
	hs *clientHandshake

	handshakeMutex    sync.Mutex
	handshakeComplete bool

	// in guards the RX half: the record layer's receive state, the
	// plaintext buffer and delivery. out guards the TX half.
	in  sync.Mutex
	out sync.Mutex

	mu     sync.Mutex
	err    error
	eof    bool
	closed bool

	recvBuf []byte

	// Version is the negotiated protocol version, immutable once the
	// handshake completes.
	version uint16
	// PeerCertificates is the validated server chain, DER, leaf first.
	peerCertificates [][]byte
}

// Client wraps a ciphertext transport endpoint in a TLS client session
// configured for config.ServerName.
func Client(conn io.ReadWriteCloser, config *Config) *Session {
	if config == nil {
		config = &Config{}
	}
	id := uuid.NewString()
	logger := config.logger().With(
		zap.String("session_id", id),
		zap.String("server_name", config.ServerName),
	)
	rnd := config.Rand
	if rnd == nil {
		rnd = rand.Reader
	}
	s := &Session{
		config: config,
		conn:   conn,
		id:     id,
		logger: logger,
	}
	s.rl = newRecordLayer(conn, rnd, config.maxVersion(), logger)
	return s
}

// Handshake runs the TLS handshake if it has not run yet. It is called
// implicitly by the first Read or Write.
func (s *Session) Handshake() error {
	s.handshakeMutex.Lock()
	defer s.handshakeMutex.Unlock()

	if s.handshakeComplete {
		return nil
	}
	if err := s.fatalErr(); err != nil {
		return err
	}

	err := s.runHandshake()
	if err != nil {
		s.teardown(err)
		return s.fatalErr()
	}
	return nil
}

// runHandshake is the cooperative driving loop: each iteration either
// emits exactly one pending transmission, in fixed protocol order, or
// feeds the receive machinery one transport chunk.
func (s *Session) runHandshake() error {
	hs := newClientHandshake(s)
	s.hs = hs
	hs.schedule(txClientHello)

	for !hs.established {
		if hs.pending != 0 {
			if err := hs.transmitNext(); err != nil {
				return err
			}
			continue
		}
		if err := s.readAndDeliver(); err != nil {
			return err
		}
	}

	s.version = hs.version
	s.peerCertificates = hs.chain
	s.hs = nil
	s.handshakeComplete = true
	s.logger.Info("session established",
		zap.Uint16("version", s.version),
		zap.Uint16("cipher_suite", hs.suite.code))
	return nil
}

// readAndDeliver pulls one chunk from the transport and resumes the RX
// record state machine. Chunks of any size are acceptable; records are
// reassembled across calls.
func (s *Session) readAndDeliver() error {
	var buf [4096]byte
	n, err := s.conn.Read(buf[:])
	if n > 0 {
		if ferr := s.rl.feed(buf[:n], s.deliver); ferr != nil {
			return ferr
		}
	}
	if err != nil {
		if err == io.EOF {
			return transportError("transport closed", err)
		}
		return transportError("transport read failed", err)
	}
	return nil
}

// deliver routes one verified record by content type.
func (s *Session) deliver(typ uint8, payload []byte) error {
	switch typ {
	case recordTypeHandshake:
		if s.hs == nil {
			// Only HelloRequests are tolerable after establishment: a
			// run of complete four-byte messages of type 0 with empty
			// bodies, nothing else.
			for rest := payload; len(rest) > 0; rest = rest[4:] {
				if len(rest) < 4 || HandshakeType(rest[0]) != typeHelloRequest ||
					rest[1] != 0 || rest[2] != 0 || rest[3] != 0 {
					return unexpectedMessageError("handshake record after establishment")
				}
				s.logger.Debug("ignoring post-handshake HelloRequest")
			}
			return nil
		}
		return s.hs.feedHandshake(payload)

	case recordTypeChangeCipherSpec:
		if s.hs == nil {
			return unexpectedMessageError("ChangeCipherSpec after establishment")
		}
		return s.hs.changeCipherSpec(payload)

	case recordTypeAlert:
		return s.handleAlert(payload)

	case recordTypeApplicationData:
		// The Finished verdict, not the driving loop's exit, marks the
		// handshake boundary: the server's first data record may share a
		// transport chunk with its Finished.
		established := s.handshakeComplete || (s.hs != nil && s.hs.established)
		if !established {
			return unexpectedMessageError("application data during handshake")
		}
		s.recvBuf = append(s.recvBuf, payload...)
		return nil

	default:
		return decodeError("record with unknown content type %d", typ)
	}
}

// handleAlert implements the alert policy: warnings are logged and the
// session continues, close_notify starts graceful shutdown, fatal
// alerts tear the session down.
func (s *Session) handleAlert(payload []byte) error {
	if len(payload) != 2 {
		return decodeError("malformed alert record")
	}
	level, desc := payload[0], payload[1]

	switch {
	case desc == alertCloseNotify:
		s.logger.Debug("received close_notify")
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
		if !s.handshakeComplete {
			return transportError("session closed during handshake", nil)
		}
		return nil
	case level == alertLevelWarning:
		s.logger.Warn("received warning alert",
			zap.String("alert", alertDescriptionString(desc)))
		return nil
	default:
		return &AlertError{Description: desc}
	}
}

// Read returns decrypted application data from the plaintext side,
// running the handshake first if necessary.
func (s *Session) Read(p []byte) (int, error) {
	if err := s.Handshake(); err != nil {
		return 0, err
	}

	s.in.Lock()
	defer s.in.Unlock()

	for len(s.recvBuf) == 0 {
		if err := s.fatalErr(); err != nil {
			return 0, err
		}
		if s.isEOF() {
			return 0, io.EOF
		}
		if err := s.readAndDeliver(); err != nil {
			s.teardown(err)
			return 0, s.fatalErr()
		}
	}

	n := copy(p, s.recvBuf)
	s.recvBuf = s.recvBuf[n:]
	return n, nil
}

// Write encrypts and frames application data onto the ciphertext side,
// running the handshake first if necessary.
func (s *Session) Write(p []byte) (int, error) {
	if err := s.Handshake(); err != nil {
		return 0, err
	}

	s.out.Lock()
	defer s.out.Unlock()

	if err := s.fatalErr(); err != nil {
		return 0, err
	}
	if s.isClosed() {
		return 0, transportError("session closed", nil)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.rl.send(recordTypeApplicationData, p); err != nil {
		s.teardown(err)
		return 0, s.fatalErr()
	}
	return len(p), nil
}

// Close sends a close_notify alert and releases the transport.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fatal := s.err != nil
	s.mu.Unlock()

	if !fatal && s.handshakeComplete {
		s.out.Lock()
		_ = s.rl.send(recordTypeAlert, []byte{alertLevelWarning, alertCloseNotify})
		s.out.Unlock()
	}
	return s.conn.Close()
}

// ID is the session's trace identity used in structured logs.
func (s *Session) ID() string {
	return s.id
}

// Version returns the negotiated protocol version, valid once the
// handshake has completed.
func (s *Session) Version() uint16 {
	return s.version
}

// PeerCertificates returns the validated server chain, DER encoded,
// leaf first.
func (s *Session) PeerCertificates() [][]byte {
	return s.peerCertificates
}

func (s *Session) fatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) isEOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// teardown poisons the session with its first fatal cause, notifies the
// peer where the cause maps to an alert, and releases the transport.
// Cipher contexts die with the session; both endpoints observe the
// cause on their next operation.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = cause
	s.closed = true
	s.mu.Unlock()

	s.logger.Error("session torn down", zap.Error(cause))

	if e, ok := cause.(*Error); ok && e.Kind != KindTransport {
		_ = s.rl.send(recordTypeAlert, []byte{alertLevelFatal, e.AlertDescription()})
	}
	_ = s.conn.Close()
}
