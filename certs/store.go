// Package certs provisions the locally trusted certificate the bridge serves
// wss:// with, so that Web NFC pages loaded over https on phones in the LAN
// can reach it.
package certs

import (
	"bufio"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
	"github.com/rs/zerolog"
)

// Pair is a server certificate and its key on disk.
type Pair struct {
	CertFile string
	KeyFile  string
}

// Issuer installs the local CA and issues server certificates signed by it.
type Issuer interface {
	Issue(hosts []string, dir string) (Pair, error)
}

// Store keeps the CA and the server certificate under one directory:
//
//	<dir>/ca/rootCA.pem
//	<dir>/tls/server.crt
//	<dir>/tls/server.key
//	<dir>/tls/hosts.txt
type Store struct {
	dir    string
	issuer Issuer
	log    zerolog.Logger
}

// NewStore returns a Store rooted at dir that issues certificates through a
// local mkcert-style CA installed in the system trust store.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:    dir,
		issuer: trustStoreIssuer{caDir: filepath.Join(dir, "ca")},
		log:    logger.With().Str("component", "certs").Logger(),
	}
}

func (s *Store) tlsDir() string    { return filepath.Join(s.dir, "tls") }
func (s *Store) hostsFile() string { return filepath.Join(s.tlsDir(), "hosts.txt") }

// Pair returns the paths of the server certificate and key.
func (s *Store) Pair() Pair {
	return Pair{
		CertFile: filepath.Join(s.tlsDir(), "server.crt"),
		KeyFile:  filepath.Join(s.tlsDir(), "server.key"),
	}
}

// CAFile returns the path of the CA certificate clients have to trust.
func (s *Store) CAFile() string {
	return filepath.Join(s.dir, "ca", "rootCA.pem")
}

// Ensure returns a certificate valid for hosts, issuing a new one when none
// exists yet or when the host list changed since the last issue.
func (s *Store) Ensure(hosts []string) (Pair, error) {
	if err := os.MkdirAll(s.tlsDir(), 0o700); err != nil {
		return Pair{}, fmt.Errorf("create tls dir: %w", err)
	}

	pair := s.Pair()
	switch {
	case !pair.exists():
		s.log.Info().Strs("hosts", hosts).Msg("no server certificate, issuing one")
	case s.hostsChanged(hosts):
		s.log.Info().Strs("hosts", hosts).Msg("network addresses changed, reissuing server certificate")
	default:
		s.log.Debug().Str("cert", pair.CertFile).Msg("using existing server certificate")
		return pair, nil
	}

	issued, err := s.issuer.Issue(hosts, s.tlsDir())
	if err != nil {
		return Pair{}, err
	}
	if err := movePair(issued, pair); err != nil {
		return Pair{}, err
	}
	if err := s.writeHosts(hosts); err != nil {
		s.log.Warn().Err(err).Msg("failed to record certificate hosts")
	}
	if fp, err := s.CAFingerprint(); err == nil {
		s.log.Info().Str("fingerprint", fp).Msg("CA fingerprint (SHA256)")
	}
	return pair, nil
}

func (p Pair) exists() bool {
	_, certErr := os.Stat(p.CertFile)
	_, keyErr := os.Stat(p.KeyFile)
	return certErr == nil && keyErr == nil
}

func movePair(from, to Pair) error {
	if from.CertFile != to.CertFile {
		if err := os.Rename(from.CertFile, to.CertFile); err != nil {
			return fmt.Errorf("move certificate: %w", err)
		}
	}
	if from.KeyFile != to.KeyFile {
		if err := os.Rename(from.KeyFile, to.KeyFile); err != nil {
			return fmt.Errorf("move key: %w", err)
		}
	}
	return nil
}

func (s *Store) hostsChanged(hosts []string) bool {
	cached, err := s.readHosts()
	if err != nil {
		return true
	}
	want := slices.Clone(hosts)
	slices.Sort(cached)
	slices.Sort(want)
	return !slices.Equal(cached, want)
}

func (s *Store) readHosts() ([]string, error) {
	f, err := os.Open(s.hostsFile())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if h := strings.TrimSpace(sc.Text()); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, sc.Err()
}

func (s *Store) writeHosts(hosts []string) error {
	return os.WriteFile(s.hostsFile(), []byte(strings.Join(hosts, "\n")+"\n"), 0o600)
}

// CAFingerprint returns the SHA-256 fingerprint of the CA certificate as
// colon-separated uppercase hex.
func (s *Store) CAFingerprint() (string, error) {
	data, err := os.ReadFile(s.CAFile())
	if err != nil {
		return "", fmt.Errorf("read CA certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return "", errors.New("CA certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse CA certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

type trustStoreIssuer struct {
	caDir string
}

// Issue installs the CA (prompting for a password when the system requires
// it) and signs a certificate for hosts.
func (i trustStoreIssuer) Issue(hosts []string, dir string) (Pair, error) {
	if err := os.MkdirAll(i.caDir, 0o700); err != nil {
		return Pair{}, fmt.Errorf("create CA dir: %w", err)
	}
	os.Setenv("CAROOT", i.caDir)

	lib, err := truststore.NewLib()
	if err != nil {
		return Pair{}, fmt.Errorf("init truststore: %w", err)
	}
	if err := lib.Install(); err != nil {
		return Pair{}, fmt.Errorf("install CA: %w", err)
	}
	cert, err := lib.MakeCert(hosts, dir)
	if err != nil {
		return Pair{}, fmt.Errorf("issue certificate: %w", err)
	}
	return Pair{CertFile: cert.CertFile, KeyFile: cert.KeyFile}, nil
}
