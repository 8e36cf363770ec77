package tls

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// cbcMode is the block-mode surface the record layer needs: chaining
// state for TLS 1.0 implicit IVs, SetIV for 1.1+ explicit IVs.
type cbcMode interface {
	cipher.BlockMode
	SetIV([]byte)
}

// cipherSuite is an immutable descriptor binding one negotiated suite's
// algorithms. Key exchange is RSA for every supported suite.
type cipherSuite struct {
	// code is the wire value, network byte order.
	code uint16
	// keyLen is the bulk cipher key length; zero for null suites.
	keyLen int
	// macLen is the MAC digest size.
	macLen int
	// ivLen is the CBC block/IV size; zero for null suites.
	ivLen int
	// newHash constructs the MAC digest.
	newHash func() hash.Hash
	// newCipher constructs the bulk cipher block mode, or is nil for
	// the null cipher.
	newCipher func(key, iv []byte, encrypt bool) cbcMode
}

func newAESCBC(key, iv []byte, encrypt bool) cbcMode {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic("tls: invalid AES key length: " + err.Error())
	}
	if encrypt {
		return cipher.NewCBCEncrypter(block, iv).(cbcMode)
	}
	return cipher.NewCBCDecrypter(block, iv).(cbcMode)
}

var supportedCipherSuites = []*cipherSuite{
	{code: TLS_RSA_WITH_AES_256_CBC_SHA256, keyLen: 32, macLen: 32, ivLen: 16, newHash: sha256.New, newCipher: newAESCBC},
	{code: TLS_RSA_WITH_AES_128_CBC_SHA256, keyLen: 16, macLen: 32, ivLen: 16, newHash: sha256.New, newCipher: newAESCBC},
	{code: TLS_RSA_WITH_AES_256_CBC_SHA, keyLen: 32, macLen: 20, ivLen: 16, newHash: sha1.New, newCipher: newAESCBC},
	{code: TLS_RSA_WITH_AES_128_CBC_SHA, keyLen: 16, macLen: 20, ivLen: 16, newHash: sha1.New, newCipher: newAESCBC},
	{code: TLS_RSA_WITH_NULL_SHA, macLen: 20, newHash: sha1.New},
	{code: TLS_RSA_WITH_NULL_MD5, macLen: 16, newHash: md5.New},
}

// suiteByCode returns the descriptor for a wire code, or nil.
func suiteByCode(code uint16) *cipherSuite {
	for _, s := range supportedCipherSuites {
		if s.code == code {
			return s
		}
	}
	return nil
}

// defaultCipherSuites returns the offered suites in preference order.
// Null suites are negotiable but never offered unless configured.
func defaultCipherSuites() []uint16 {
	return []uint16{
		TLS_RSA_WITH_AES_256_CBC_SHA256,
		TLS_RSA_WITH_AES_128_CBC_SHA256,
		TLS_RSA_WITH_AES_256_CBC_SHA,
		TLS_RSA_WITH_AES_128_CBC_SHA,
	}
}

// keyBlockLen is the amount of key material the suite consumes:
// client_mac || server_mac || client_key || server_key and, for block
// ciphers, client_iv || server_iv.
func (s *cipherSuite) keyBlockLen() int {
	return 2*s.macLen + 2*s.keyLen + 2*s.ivLen
}

// signatureHash is one entry of the signature_algorithms extension and
// the algorithm bound to an outgoing CertificateVerify.
type signatureHash struct {
	hash      uint8
	signature uint8
	crypto    crypto.Hash
	newHash   func() hash.Hash
}

// supportedSignatureHashes lists the RSA signature algorithms offered,
// strongest first.
var supportedSignatureHashes = []signatureHash{
	{hash: hashSHA256, signature: signatureRSA, crypto: crypto.SHA256, newHash: sha256.New},
	{hash: hashSHA1, signature: signatureRSA, crypto: crypto.SHA1, newHash: sha1.New},
	{hash: hashMD5, signature: signatureRSA, crypto: crypto.MD5, newHash: md5.New},
}

// selectSignatureHash picks the strongest supported algorithm the peer
// also listed.
func selectSignatureHash(peer [][2]uint8) (signatureHash, bool) {
	for _, sh := range supportedSignatureHashes {
		for _, p := range peer {
			if p[0] == sh.hash && p[1] == sh.signature {
				return sh, true
			}
		}
	}
	return signatureHash{}, false
}
