package tls

import (
	"crypto/subtle"
	"encoding/binary"
	"io"

	"go.uber.org/zap"
)

// rxState is the receive-side accumulation state: header bytes first,
// then exactly the advertised payload length.
type rxState int

const (
	rxHeader rxState = iota
	rxData
)

// recordLayer frames outgoing plaintext into TLS records and de-frames
// incoming ciphertext, maintaining independent TX/RX sequence numbers
// and one active/pending cipher spec pair per direction.
type recordLayer struct {
	logger *zap.Logger
	out    io.Writer
	rand   io.Reader

	// version stamped into outgoing record headers. Starts at the
	// offered version, fixed at negotiation.
	version uint16

	tx    specPair
	rx    specPair
	txSeq uint64
	rxSeq uint64

	rxState rxState
	rxRcvd  int
	rxHdr   [recordHeaderLen]byte
	rxBuf   []byte
}

func newRecordLayer(out io.Writer, rand io.Reader, version uint16, logger *zap.Logger) *recordLayer {
	return &recordLayer{
		logger:  logger,
		out:     out,
		rand:    rand,
		version: version,
		tx:      newSpecPair(),
		rx:      newSpecPair(),
	}
}

// send frames plaintext of one content type: MAC, pad, encrypt, header,
// emit. Payloads beyond the maximum plaintext size are fragmented into
// multiple records.
func (rl *recordLayer) send(typ uint8, payload []byte) error {
	for {
		frag := payload
		if len(frag) > maxPlaintextLen {
			frag = frag[:maxPlaintextLen]
		}
		if err := rl.sendRecord(typ, frag); err != nil {
			return err
		}
		payload = payload[len(frag):]
		if len(payload) == 0 {
			return nil
		}
	}
}

func (rl *recordLayer) sendRecord(typ uint8, payload []byte) error {
	spec := rl.tx.active

	var mac []byte
	if spec.mac != nil {
		mac = spec.computeMAC(rl.txSeq, typ, rl.version, payload)
	}

	var fragment []byte
	switch {
	case spec.cipher == nil:
		fragment = make([]byte, 0, len(payload)+len(mac))
		fragment = append(fragment, payload...)
		fragment = append(fragment, mac...)
	default:
		blockSize := spec.cipher.BlockSize()
		ivLen := 0
		if spec.explicitIV() {
			ivLen = blockSize
		}
		padded := len(payload) + len(mac) + 1
		paddingLen := blockSize - padded%blockSize
		if paddingLen == blockSize {
			paddingLen = 0
		}
		padded += paddingLen

		fragment = make([]byte, ivLen+padded)
		if ivLen > 0 {
			if _, err := io.ReadFull(rl.rand, fragment[:ivLen]); err != nil {
				return allocationError("generating record IV", err)
			}
			spec.cipher.SetIV(fragment[:ivLen])
		}
		body := fragment[ivLen:]
		n := copy(body, payload)
		n += copy(body[n:], mac)
		for i := n; i < len(body); i++ {
			body[i] = byte(paddingLen)
		}
		spec.cipher.CryptBlocks(body, body)
	}

	if len(fragment) > maxCiphertextLen {
		return decodeError("outgoing record too large: %d bytes", len(fragment))
	}

	record := make([]byte, recordHeaderLen+len(fragment))
	record[0] = typ
	binary.BigEndian.PutUint16(record[1:3], rl.version)
	binary.BigEndian.PutUint16(record[3:5], uint16(len(fragment)))
	copy(record[recordHeaderLen:], fragment)

	if _, err := rl.out.Write(record); err != nil {
		return transportError("writing record", err)
	}

	rl.txSeq++
	if rl.txSeq == 0 {
		return decodeError("TX sequence number overflow")
	}
	return nil
}

// feed resumes the RX state machine with the next ciphertext chunk,
// which may be arbitrarily small or carry several records. Each complete,
// verified record is handed to deliver as (type, plaintext).
func (rl *recordLayer) feed(chunk []byte, deliver func(typ uint8, payload []byte) error) error {
	for {
		switch rl.rxState {
		case rxHeader:
			if rl.rxRcvd < recordHeaderLen {
				n := copy(rl.rxHdr[rl.rxRcvd:], chunk)
				rl.rxRcvd += n
				chunk = chunk[n:]
			}
			if rl.rxRcvd < recordHeaderLen {
				return nil
			}
			length := int(binary.BigEndian.Uint16(rl.rxHdr[3:5]))
			if length > maxCiphertextLen {
				return &Error{Kind: KindDecode, Alert: alertRecordOverflow,
					Message: "oversized record received"}
			}
			if rl.rxHdr[1] != 0x03 {
				return decodeError("received record with version %#04x",
					binary.BigEndian.Uint16(rl.rxHdr[1:3]))
			}
			rl.rxBuf = make([]byte, length)
			rl.rxRcvd = 0
			rl.rxState = rxData

		case rxData:
			if rl.rxRcvd < len(rl.rxBuf) {
				n := copy(rl.rxBuf[rl.rxRcvd:], chunk)
				rl.rxRcvd += n
				chunk = chunk[n:]
			}
			if rl.rxRcvd < len(rl.rxBuf) {
				return nil
			}
			typ := rl.rxHdr[0]
			version := binary.BigEndian.Uint16(rl.rxHdr[1:3])
			plaintext, err := rl.decrypt(typ, version, rl.rxBuf)
			if err != nil {
				return err
			}
			rl.rxSeq++
			if rl.rxSeq == 0 {
				return decodeError("RX sequence number overflow")
			}
			rl.rxBuf = nil
			rl.rxRcvd = 0
			rl.rxState = rxHeader
			if err := deliver(typ, plaintext); err != nil {
				return err
			}
		}
	}
}

// decrypt reverses the active RX spec on one record payload: CBC
// decryption, padding check and MAC verification. Padding and MAC
// failures collapse into the one undifferentiated error.
func (rl *recordLayer) decrypt(typ uint8, version uint16, payload []byte) ([]byte, error) {
	spec := rl.rx.active
	macLen := spec.suite.macLen

	if spec.cipher == nil {
		if spec.mac == nil {
			return payload, nil
		}
		if len(payload) < macLen {
			return nil, errBadRecordMAC
		}
		data := payload[:len(payload)-macLen]
		expect := spec.computeMAC(rl.rxSeq, typ, version, data)
		if subtle.ConstantTimeCompare(expect, payload[len(data):]) != 1 {
			return nil, errBadRecordMAC
		}
		return data, nil
	}

	blockSize := spec.cipher.BlockSize()
	minLen := macLen + 1
	if spec.explicitIV() {
		minLen += blockSize
	}
	if len(payload) < minLen || len(payload)%blockSize != 0 {
		return nil, errBadRecordMAC
	}
	if spec.explicitIV() {
		spec.cipher.SetIV(payload[:blockSize])
		payload = payload[blockSize:]
	}
	spec.cipher.CryptBlocks(payload, payload)

	paddingLen, paddingGood := extractPadding(payload)
	dataLen := len(payload) - macLen - paddingLen
	// if dataLen < 0 { dataLen = 0 }, in constant time
	dataLen = subtle.ConstantTimeSelect(int(uint32(dataLen)>>31), 0, dataLen)
	data := payload[:dataLen]

	expect := spec.computeMAC(rl.rxSeq, typ, version, data)
	macGood := subtle.ConstantTimeCompare(expect, payload[dataLen:dataLen+macLen])
	if macGood != 1 || paddingGood != 255 {
		return nil, errBadRecordMAC
	}
	return data, nil
}

// changeCipherTx promotes the pending TX spec and starts the new
// epoch's sequence numbering. Called immediately after a
// ChangeCipherSpec record has been sent.
func (rl *recordLayer) changeCipherTx() bool {
	if !rl.tx.promote() {
		return false
	}
	rl.txSeq = 0
	return true
}

// changeCipherRx promotes the pending RX spec on receipt of a
// ChangeCipherSpec record.
func (rl *recordLayer) changeCipherRx() bool {
	if !rl.rx.promote() {
		return false
	}
	rl.rxSeq = 0
	return true
}

// extractPadding checks CBC padding in constant time and returns the
// number of bytes to strip (padding plus its length byte) and a
// 0xff/0x00 validity mask. On bad padding the strip count is zeroed so
// the unchecked bytes still feed the MAC comparison; an attacker able
// to tell MAC failures from padding failures could mount a
// POODLE-style attack.
func extractPadding(payload []byte) (toRemove int, good byte) {
	if len(payload) < 1 {
		return 0, 0
	}
	paddingLen := payload[len(payload)-1]
	t := uint(len(payload)-1) - uint(paddingLen)
	// if len(payload) > paddingLen then the MSB of t is zero
	good = byte(int32(^t) >> 31)

	// The maximum possible padding length plus the actual length field
	toCheck := 256
	if toCheck > len(payload) {
		toCheck = len(payload)
	}

	for i := 0; i < toCheck; i++ {
		t := uint(paddingLen) - uint(i)
		// if i <= paddingLen then the MSB of t is zero
		mask := byte(int32(^t) >> 31)
		b := payload[len(payload)-1-i]
		good &^= mask&paddingLen ^ mask&b
	}

	// Replicate the single validity bit across the whole byte.
	good &= good >> 4
	good &= good >> 2
	good &= good >> 1
	good = uint8(int8(good<<7) >> 7)

	paddingLen &= good

	toRemove = int(paddingLen) + 1
	return
}
