package services

import (
	"bytes"
	"regexp"
	"testing"
)

type fakeKeyStore struct {
	data map[string][]byte
	sets int
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{data: map[string][]byte{}}
}

func (s *fakeKeyStore) Get(key string) ([]byte, error) {
	return s.data[key], nil
}

func (s *fakeKeyStore) Set(key string, value []byte) error {
	s.sets++
	s.data[key] = value
	return nil
}

var hexHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestEnsureKeyGeneratesOnFirstUse(t *testing.T) {
	store := newFakeKeyStore()

	key, err := EnsureKey(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(key.SecretBytes) != 32 {
		t.Fatalf("expected 32 byte secret, got %d", len(key.SecretBytes))
	}
	if !hexHashRegex.MatchString(key.PublicHashHex) {
		t.Fatalf("expected 64 lowercase hex hash, got %q", key.PublicHashHex)
	}
	if store.sets != 1 {
		t.Fatalf("expected one persist, got %d", store.sets)
	}
}

func TestEnsureKeyIsStableAcrossCalls(t *testing.T) {
	store := newFakeKeyStore()

	first, err := EnsureKey(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := EnsureKey(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(first.SecretBytes, second.SecretBytes) {
		t.Fatalf("expected the same secret on second call")
	}
	if first.PublicHashHex != second.PublicHashHex {
		t.Fatalf("expected stable hash, got %q then %q", first.PublicHashHex, second.PublicHashHex)
	}
	if store.sets != 1 {
		t.Fatalf("expected no re-persist on second call, got %d sets", store.sets)
	}
}

func TestEnsureKeyReplacesCorruptSecret(t *testing.T) {
	store := newFakeKeyStore()
	store.data[deviceSecretKeyName] = []byte("short")

	key, err := EnsureKey(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key.SecretBytes) != 32 {
		t.Fatalf("expected corrupt secret replaced with 32 bytes, got %d", len(key.SecretBytes))
	}
	if bytes.Equal(key.SecretBytes, []byte("short")) {
		t.Fatalf("expected a fresh secret")
	}
}

func TestEnsureKeyNilStore(t *testing.T) {
	if _, err := EnsureKey(nil); err == nil {
		t.Fatalf("expected error with no key store")
	}
}

func TestHashSecretKnownVector(t *testing.T) {
	got := HashSecret([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFileKeyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileKeyStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing, err := store.Get("absent")
	if err != nil {
		t.Fatalf("unexpected error reading absent key: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for absent key, got %v", missing)
	}

	value := []byte{1, 2, 3, 4}
	if err := store.Set("device_secret", value); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get("device_secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("expected %v, got %v", value, got)
	}
}

func TestFileKeyStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileKeyStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key1, err := EnsureKey(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := NewFileKeyStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key2, err := EnsureKey(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if key1.PublicHashHex != key2.PublicHashHex {
		t.Fatalf("expected identity to survive reopen, got %q then %q", key1.PublicHashHex, key2.PublicHashHex)
	}
}
