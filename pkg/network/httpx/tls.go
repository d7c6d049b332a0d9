package httpx

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/acme/autocert"
)

const DefaultCertCache = "cache/certs"

type TLS struct {
	CertManager *autocert.Manager

	lock *flock.Flock
}

// NewTLSConfig makes a Let's Encrypt certificate manager for the host.
// The cache dir is locked so that two relays won't request the same
// certificates into one place.
func NewTLSConfig(host, cacheDir string) (*TLS, error) {
	if cacheDir == "" {
		cacheDir = DefaultCertCache
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(cacheDir, ".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cert cache %v is used by another process", cacheDir)
	}
	tls := TLS{
		CertManager: &autocert.Manager{
			Prompt: autocert.AcceptTOS,
			Cache:  autocert.DirCache(cacheDir),
		},
		lock: lock,
	}
	if host != "" {
		tls.CertManager.HostPolicy = autocert.HostWhitelist(host)
	}
	return &tls, nil
}

func (t *TLS) Release() error { return t.lock.Unlock() }
