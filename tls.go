package couchdb

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// CertMaterial is either raw PEM/DER bytes ([]byte) or a filename
// (string, with {hostname} substituted for the local host name). For
// CA, a []CertMaterial resolves each element the same way.
type CertMaterial interface{}

// tlsOptions mirrors the Config fields that feed TLS material
// resolution.
type tlsOptions struct {
	Cert               CertMaterial
	Key                CertMaterial
	CA                 CertMaterial
	RejectUnauthorized *bool
}

// loadTLSConfig resolves cert/key/ca from either in-memory bytes or
// filenames (with {hostname} substitution), reading files
// synchronously at construction time.
func loadTLSConfig(opts tlsOptions) (*tls.Config, error) {
	if opts.Cert == nil && opts.Key == nil && opts.CA == nil && opts.RejectUnauthorized == nil {
		return nil, nil
	}
	cfg := &tls.Config{}

	certBytes, err := resolveCertBytes(opts.Cert)
	if err != nil {
		return nil, fmt.Errorf("couchdb: loading cert: %w", err)
	}
	keyBytes, err := resolveCertBytes(opts.Key)
	if err != nil {
		return nil, fmt.Errorf("couchdb: loading key: %w", err)
	}
	if len(certBytes) > 0 && len(keyBytes) > 0 {
		pair, err := tls.X509KeyPair(certBytes, keyBytes)
		if err != nil {
			return nil, fmt.Errorf("couchdb: building client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	if opts.CA != nil {
		pool := x509.NewCertPool()
		cas, err := resolveCertMaterialList(opts.CA)
		if err != nil {
			return nil, fmt.Errorf("couchdb: loading CA: %w", err)
		}
		for _, ca := range cas {
			if !pool.AppendCertsFromPEM(ca) {
				return nil, fmt.Errorf("couchdb: invalid CA certificate")
			}
		}
		cfg.RootCAs = pool
	}

	if opts.RejectUnauthorized != nil {
		cfg.InsecureSkipVerify = !*opts.RejectUnauthorized
	}
	return cfg, nil
}

func resolveCertMaterialList(m CertMaterial) ([][]byte, error) {
	if list, ok := m.([]CertMaterial); ok {
		out := make([][]byte, 0, len(list))
		for _, item := range list {
			b, err := resolveCertBytes(item)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	}
	b, err := resolveCertBytes(m)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return [][]byte{b}, nil
}

// resolveCertBytes resolves a single CertMaterial value: []byte is
// used directly, a string is treated as a filename (with {hostname}
// substituted) and read synchronously.
func resolveCertBytes(m CertMaterial) ([]byte, error) {
	switch v := m.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		name, err := os.Hostname()
		if err != nil {
			name = ""
		}
		path := strings.ReplaceAll(v, "{hostname}", name)
		return os.ReadFile(path)
	default:
		return nil, fmt.Errorf("couchdb: unsupported cert material type %T", m)
	}
}
