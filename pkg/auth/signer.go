package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// SigningScheme signs tokens and resolves verification keys. One scheme is
// selected at startup; it never changes per request.
type SigningScheme interface {
	// Sign returns the compact serialization of claims
	Sign(claims jwt.Claims) (string, error)
	// Keyfunc resolves the key that verifies token
	Keyfunc(token *jwt.Token) (interface{}, error)
	// Algorithms lists the accepted "alg" header values
	Algorithms() []string
}

// HMACScheme signs with a shared secret (HS256)
type HMACScheme struct {
	secret []byte
}

// MinHMACSecretLength is the shortest accepted shared secret
const MinHMACSecretLength = 32

// NewHMACScheme creates an HS256 scheme
func NewHMACScheme(secret string) (*HMACScheme, error) {
	if len(secret) < MinHMACSecretLength {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", MinHMACSecretLength)
	}
	return &HMACScheme{secret: []byte(secret)}, nil
}

func (s *HMACScheme) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *HMACScheme) Keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return s.secret, nil
}

func (s *HMACScheme) Algorithms() []string {
	return []string{jwt.SigningMethodHS256.Alg()}
}

// RSAScheme signs with one active private key (RS256) and stamps its key id
// in the "kid" header. Verification looks the key id up in the keyring, so
// tokens signed by a previous or next key stay valid while its public key is
// published.
type RSAScheme struct {
	activeKey *rsa.PrivateKey
	keyID     string
	keyring   *Keyring
}

// NewRSAScheme creates an RS256 scheme. The active public key is always
// accepted, whether or not the keyring holds it.
func NewRSAScheme(activeKey *rsa.PrivateKey, keyID string, keyring *Keyring) (*RSAScheme, error) {
	if activeKey == nil {
		return nil, errors.New("rsa signing key is required")
	}
	if keyID == "" {
		return nil, errors.New("rsa key id is required")
	}
	if keyring == nil {
		keyring = NewKeyring()
	}
	return &RSAScheme{activeKey: activeKey, keyID: keyID, keyring: keyring}, nil
}

// LoadRSAScheme reads the active private key from a PEM file
func LoadRSAScheme(privateKeyPath, keyID string, keyring *Keyring) (*RSAScheme, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return NewRSAScheme(key, keyID, keyring)
}

func (s *RSAScheme) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	return token.SignedString(s.activeKey)
}

func (s *RSAScheme) Keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid")
	}
	if kid == s.keyID {
		return &s.activeKey.PublicKey, nil
	}
	if key, ok := s.keyring.Get(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

func (s *RSAScheme) Algorithms() []string {
	return []string{jwt.SigningMethodRS256.Alg()}
}

// KeyID returns the id stamped on newly signed tokens
func (s *RSAScheme) KeyID() string {
	return s.keyID
}

// Keyring holds the public keys accepted for verification, by key id
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewKeyring creates an empty keyring
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]*rsa.PublicKey)}
}

// Add publishes a verification key
func (k *Keyring) Add(kid string, key *rsa.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[kid] = key
}

// Remove withdraws a verification key
func (k *Keyring) Remove(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, kid)
}

// Get returns the key published under kid
func (k *Keyring) Get(kid string) (*rsa.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[kid]
	return key, ok
}

// KeyIDs returns the published key ids
func (k *Keyring) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	return ids
}

func keyIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".pem" {
		return "", false
	}
	kid := strings.TrimSuffix(base, ".pem")
	return kid, kid != ""
}

// LoadFile reads one PEM public key; its file name stem is the key id
func (k *Keyring) LoadFile(path string) (string, error) {
	kid, ok := keyIDFromPath(path)
	if !ok {
		return "", fmt.Errorf("%s is not a .pem file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key %s: %w", kid, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse key %s: %w", kid, err)
	}
	k.Add(kid, key)
	return kid, nil
}

// LoadDir loads every *.pem file of dir and returns how many keys it holds
// afterwards. Files that fail to parse are skipped and reported together.
func (k *Keyring) LoadDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return 0, fmt.Errorf("failed to list keyring dir: %w", err)
	}

	var errs []error
	for _, path := range paths {
		if _, err := k.LoadFile(path); err != nil {
			errs = append(errs, err)
		}
	}
	return len(k.KeyIDs()), errors.Join(errs...)
}

// Watch reloads keys when *.pem files in dir are created, rewritten or
// removed, until ctx is cancelled
func (k *Keyring) Watch(ctx context.Context, dir string, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.GetLogger(ctx)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create keyring watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				k.handleEvent(event, logger)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Keyring watcher error")
			}
		}
	}()
	return nil
}

func (k *Keyring) handleEvent(event fsnotify.Event, logger *observability.Logger) {
	kid, ok := keyIDFromPath(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if _, err := k.LoadFile(event.Name); err != nil {
			logger.WithError(err).WithField("kid", kid).Warn("Failed to load verification key")
			return
		}
		logger.WithField("kid", kid).Info("Verification key loaded")
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		k.Remove(kid)
		logger.WithField("kid", kid).Info("Verification key removed")
	}
}
