package httpx

import "testing"

func TestCertCacheLock(t *testing.T) {
	dir := t.TempDir()
	a, err := NewTLSConfig("relay.example.com", dir)
	if err != nil {
		t.Fatal(err)
	}
	if a.CertManager.HostPolicy == nil {
		t.Errorf("no host policy")
	}
	if _, err = NewTLSConfig("", dir); err == nil {
		t.Errorf("expected a locked cache error")
	}
	if err = a.Release(); err != nil {
		t.Fatal(err)
	}
	b, err := NewTLSConfig("", dir)
	if err != nil {
		t.Fatalf("cache is still locked, %v", err)
	}
	_ = b.Release()
}
