package tls

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"time"
)

// CertificateValidator is the chain-validation boundary. The engine
// hands over the encoded chain exactly as received (leaf first) and the
// expected name, and only ever uses the returned leaf public key.
type CertificateValidator interface {
	Validate(derChain [][]byte, serverName string) (crypto.PublicKey, error)
}

// x509Validator is the default validator: parse the chain, verify
// signatures and hostname against a root pool via crypto/x509.
type x509Validator struct {
	roots      *x509.CertPool
	skipVerify bool
	time       func() time.Time
}

func newX509Validator(config *Config) *x509Validator {
	return &x509Validator{
		roots:      config.RootCAs,
		skipVerify: config.InsecureSkipVerify,
		time:       config.Time,
	}
}

func (v *x509Validator) Validate(derChain [][]byte, serverName string) (crypto.PublicKey, error) {
	if len(derChain) == 0 {
		return nil, authError(alertBadCertificate, "server sent an empty certificate chain", nil)
	}

	certs := make([]*x509.Certificate, 0, len(derChain))
	for _, der := range derChain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, authError(alertBadCertificate, "parsing server certificate", err)
		}
		certs = append(certs, cert)
	}
	leaf := certs[0]

	if !v.skipVerify {
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		opts := x509.VerifyOptions{
			Roots:         v.roots,
			Intermediates: intermediates,
			DNSName:       serverName,
		}
		if v.time != nil {
			opts.CurrentTime = v.time()
		}
		if _, err := leaf.Verify(opts); err != nil {
			return nil, authError(certVerifyAlert(err), "certificate validation failed", err)
		}
	}

	if _, ok := leaf.PublicKey.(*rsa.PublicKey); !ok {
		return nil, negotiationError(alertUnsupportedCertificate,
			"server certificate key is %T, need RSA", leaf.PublicKey)
	}
	return leaf.PublicKey, nil
}

// certVerifyAlert maps x509 verification failures onto alerts without
// losing the fatal classification.
func certVerifyAlert(err error) uint8 {
	switch e := err.(type) {
	case x509.CertificateInvalidError:
		if e.Reason == x509.Expired {
			return alertCertificateExpired
		}
		return alertBadCertificate
	case x509.UnknownAuthorityError:
		return alertUnknownCA
	case x509.HostnameError:
		return alertBadCertificate
	default:
		return alertCertificateUnknown
	}
}
