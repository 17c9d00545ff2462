// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package httputil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/ioutil"
)

// Secret identifies a file on disk containing a PEM-encoded certificate,
// key, or passphrase.
type Secret struct {
	Path string `yaml:"path"`
}

func (s Secret) read() ([]byte, error) {
	if s.Path == "" {
		return nil, nil
	}
	return ioutil.ReadFile(s.Path)
}

// ClientConfig configures the client side of a TLS connection.
type ClientConfig struct {
	Disabled   bool   `yaml:"disabled"`
	Cert       Secret `yaml:"cert"`
	Key        Secret `yaml:"key"`
	Passphrase Secret `yaml:"passphrase"`
}

// TLSConfig configures TLS for outgoing HTTP connections.
type TLSConfig struct {
	Name   string   `yaml:"name"`
	CAs    []Secret `yaml:"cas"`
	Client ClientConfig `yaml:"client"`
}

// BuildClient constructs a *tls.Config from c. Returns nil, nil if the
// client side of TLS is disabled.
func (c *TLSConfig) BuildClient() (*tls.Config, error) {
	if c == nil || c.Client.Disabled {
		return nil, nil
	}

	pool, err := createCertPool(c.CAs)
	if err != nil {
		return nil, fmt.Errorf("create cert pool: %s", err)
	}

	conf := &tls.Config{
		ServerName: c.Name,
		RootCAs:    pool,
	}

	if c.Client.Cert.Path != "" {
		certPEM, err := c.Client.Cert.read()
		if err != nil {
			return nil, fmt.Errorf("read client cert: %s", err)
		}
		keyPEM, err := parseKey(c.Client.Key.Path, c.Client.Passphrase.Path)
		if err != nil {
			return nil, fmt.Errorf("parse client key: %s", err)
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %s", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}

// parseKey reads and, if a passphrase is configured, decrypts the private
// key at keyPath.
func parseKey(keyPath, passphrasePath string) ([]byte, error) {
	keyPEM, err := ioutil.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %s", err)
	}
	if passphrasePath == "" {
		return keyPEM, nil
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return keyPEM, nil
	}
	if !x509.IsEncryptedPEMBlock(block) { // nolint: staticcheck
		return keyPEM, nil
	}
	passphrase, err := ioutil.ReadFile(passphrasePath)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %s", err)
	}
	der, err := x509.DecryptPEMBlock(block, passphrase) // nolint: staticcheck
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %s", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

func createCertPool(secrets []Secret) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, s := range secrets {
		pem, err := s.read()
		if err != nil {
			return nil, fmt.Errorf("read ca: %s", err)
		}
		if pem == nil {
			continue
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("invalid ca cert at %s", s.Path)
		}
	}
	if len(pool.Subjects()) == 0 { // nolint: staticcheck
		return nil, nil
	}
	return pool, nil
}
