package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/AriukCS1A/testreg/model"
)

const deviceSecretKeyName = "device_secret"

// LocalDeviceKey is a device identity: a locally-held secret and the hash
// that stands in for it everywhere else. The secret never leaves the
// device; only PublicHashHex is shared with the store.
type LocalDeviceKey struct {
	SecretBytes   []byte
	PublicHashHex string
}

// IdentityService manages device identity: local key material (for kiosk
// stations) and the device-hash to phone binding in the store (for every
// device).
type IdentityService struct {
	context.DefaultService

	storageSvc *StorageService
	keyStore   KeyStore
}

const IDENTITY_SVC = "identity_svc"

func (svc IdentityService) Id() string {
	return IDENTITY_SVC
}

func (svc *IdentityService) Configure(ctx *context.Context) error {
	if dir := os.Getenv("DEVICE_KEY_DIR"); dir != "" {
		ks, err := NewFileKeyStore(dir)
		if err != nil {
			return fmt.Errorf("device key dir: %w", err)
		}
		svc.keyStore = ks
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *IdentityService) Start() error {
	svc.storageSvc = svc.Service(STORAGE_SVC).(*StorageService)
	return nil
}

// HasLocalKeyStore reports whether this deployment owns a station-local
// device identity (kiosk mode).
func (svc *IdentityService) HasLocalKeyStore() bool {
	return svc.keyStore != nil
}

// EnsureLocalKey returns the persisted device key, generating and
// persisting a fresh 32-byte secret on first use. Idempotent: the same
// secret, and therefore the same hash, comes back until storage is
// cleared. A cleared store simply yields a new identity, which re-enters
// the registration flow.
func (svc *IdentityService) EnsureLocalKey() (*LocalDeviceKey, error) {
	return EnsureKey(svc.keyStore)
}

// EnsureKey is the keystore-parameterized form of EnsureLocalKey.
func EnsureKey(store KeyStore) (*LocalDeviceKey, error) {
	if store == nil {
		return nil, errors.New("no key store configured")
	}

	secret, err := store.Get(deviceSecretKeyName)
	if err != nil {
		return nil, fmt.Errorf("read device secret: %w", err)
	}

	if len(secret) != 32 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate device secret: %w", err)
		}
		if err := store.Set(deviceSecretKeyName, secret); err != nil {
			return nil, fmt.Errorf("persist device secret: %w", err)
		}
	}

	return &LocalDeviceKey{
		SecretBytes:   secret,
		PublicHashHex: HashSecret(secret),
	}, nil
}

// HashSecret derives the shareable device identifier from secret bytes.
func HashSecret(secret []byte) string {
	sum := sha256.Sum256(secret)
	return strings.ToLower(hex.EncodeToString(sum[:]))
}

// ResolveRegistration looks a device hash up in the store. Lookup failures
// are reported as "no registration": the gate fails open into the
// registration flow rather than locking the user out.
func (svc *IdentityService) ResolveRegistration(deviceHash string) *model.Registration {
	if deviceHash == "" {
		return nil
	}

	binding, err := svc.storageSvc.GetDeviceKey(deviceHash)
	if err != nil {
		log.WithError(err).WithField("device_hash", deviceHash).Debug("Device key lookup failed, treating as unregistered")
		return nil
	}

	reg, err := svc.storageSvc.GetRegistration(binding.Phone)
	if err != nil {
		log.WithError(err).WithField("phone", binding.Phone).Warn("Registration lookup failed for bound device, treating as unregistered")
		return nil
	}

	return reg
}

// BindToPhone writes the device-key binding and set-unions the hash into
// the phone's registration record. Bind failures after a successful
// registration are logged and absorbed: the device will be asked to
// register again next visit, which is the accepted degraded path.
func (svc *IdentityService) BindToPhone(phone, deviceHash string) error {
	if err := svc.storageSvc.PutDeviceKey(deviceHash, phone); err != nil {
		return fmt.Errorf("bind device key: %w", err)
	}

	if err := svc.storageSvc.AppendDeviceKeyHash(phone, deviceHash); err != nil {
		return fmt.Errorf("append device hash: %w", err)
	}

	log.WithFields(log.Fields{
		"phone":       phone,
		"device_hash": deviceHash,
		"at":          time.Now().Format(time.RFC3339),
	}).Info("Device bound to phone")

	return nil
}
