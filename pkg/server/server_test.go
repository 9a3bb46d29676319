package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rsteinwert/csserver/pkg/access"
	"github.com/rsteinwert/csserver/pkg/identity"
	"github.com/rsteinwert/csserver/pkg/protocol"
	"github.com/rsteinwert/csserver/pkg/session"
)

// writeSelfSignedCert generates a throwaway leaf certificate and key
// under dir, returning their paths. Good for exactly one thing: giving
// a test TLS listener something to present.
func writeSelfSignedCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "certchain.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, root)

	idm, err := identity.Open(filepath.Join(root, "accounts"))
	require.NoError(t, err)

	sm, err := session.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Close() })

	rulesPath := filepath.Join(root, "db.rules")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`match public/{x} { allow rw }`), 0o600))
	am := access.NewManager()
	require.NoError(t, am.AddDB(defaultDB, filepath.Join(root, "dbdata"), rulesPath))
	require.NoError(t, am.AddCollection(defaultDB, "public", access.Ctx{IsAdmin: true}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := New(Config{
		ListenAddr:  addr,
		CertFile:    certPath,
		KeyFile:     keyPath,
		WorkerCount: 2,
		ReadTimeout: 2 * time.Second,
	}, idm, sm, am, nil)
	t.Cleanup(s.Shutdown)

	go func() { _ = s.Serve() }()
	require.Eventually(t, func() bool {
		conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return s
}

func TestServerServesGetSessionIDOverTLS(t *testing.T) {
	s := newTestServer(t)

	conn, err := tls.Dial("tcp", s.cfg.ListenAddr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteHeader(conn, protocol.Header{Word: protocol.NewWord(protocol.CmdGetSessionID, 0)}))
	h, err := protocol.ReadHeader(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.CmdGetSessionID, h.Command())
	require.NotZero(t, h.SessionID)
}

func TestShutdownClosesListenerAndIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.Shutdown()
	s.Shutdown() // must not panic or block on a second call

	_, err := tls.Dial("tcp", s.cfg.ListenAddr, &tls.Config{InsecureSkipVerify: true})
	require.Error(t, err)
}
