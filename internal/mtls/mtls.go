// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mtls provides TLS and mTLS configuration for the radar loop
// server.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	ErrCAWithoutCertificate   = errors.New("client ca set without server certificate and key")
	ErrNoValidRootCertificate = errors.New("no valid root certificate")
	ErrMissingCertificate     = errors.New("missing certificate")
	ErrMissingKey             = errors.New("missing key")
)

// Files holds the paths to PEM encoded server TLS material.
type Files struct {
	// CA is the client certificate authority. If it is set,
	// clients must present a certificate signed by the CA.
	CA string
	// Certificate and Key are the server's certificate and key.
	Certificate string
	Key         string
}

// IsZero returns whether no TLS files are specified.
func (f Files) IsZero() bool {
	return f == Files{}
}

// ServerConfig returns the server TLS configuration described by f. If f
// is zero, a nil config is returned and the server should use plain HTTP.
func ServerConfig(f Files) (*tls.Config, error) {
	if f.IsZero() {
		return nil, nil
	}
	ca, err := readPEM(f.CA)
	if err != nil {
		return nil, err
	}
	cert, err := readPEM(f.Certificate)
	if err != nil {
		return nil, err
	}
	key, err := readPEM(f.Key)
	if err != nil {
		return nil, err
	}
	return NewServerConfig(ca, cert, key)
}

func readPEM(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	return b, nil
}

// NewServerConfig returns a server TLS configuration from PEM blocks. A
// server certificate and key are required. If clientCA is not empty,
// clients must present a certificate signed by it.
func NewServerConfig(clientCA, certPEMBlock, keyPEMBlock []byte) (*tls.Config, error) {
	switch {
	case len(certPEMBlock) == 0 && len(keyPEMBlock) == 0:
		if len(clientCA) != 0 {
			return nil, ErrCAWithoutCertificate
		}
		return nil, ErrMissingCertificate
	case len(certPEMBlock) == 0:
		return nil, ErrMissingCertificate
	case len(keyPEMBlock) == 0:
		return nil, ErrMissingKey
	}
	cert, err := tls.X509KeyPair(certPEMBlock, keyPEMBlock)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if len(clientCA) != 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(clientCA) {
			return nil, ErrNoValidRootCertificate
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
