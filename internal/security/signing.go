package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	publicKeyFile  = "daemon.pub"
	privateKeyFile = "daemon.priv"
)

// KeyPair is the ed25519 identity the daemon signs ledger records with.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Save writes both halves as hex files inside dir.
func (k KeyPair) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), []byte(hex.EncodeToString(k.Public)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, privateKeyFile), []byte(hex.EncodeToString(k.Private)), 0o600)
}

// PublicHex returns the hex encoded public key.
func (k KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// Sign returns the hex signature of data.
func (k KeyPair) Sign(data []byte) (string, error) {
	if len(k.Private) != ed25519.PrivateKeySize {
		return "", errors.New("private key is empty, cannot sign")
	}
	return hex.EncodeToString(ed25519.Sign(k.Private, data)), nil
}

// Load reads a key pair previously written by Save.
func Load(dir string) (KeyPair, error) {
	pub, err := readHexKey(filepath.Join(dir, publicKeyFile), ed25519.PublicKeySize)
	if err != nil {
		return KeyPair{}, fmt.Errorf("load public key: %w", err)
	}
	priv, err := readHexKey(filepath.Join(dir, privateKeyFile), ed25519.PrivateKeySize)
	if err != nil {
		return KeyPair{}, fmt.Errorf("load private key: %w", err)
	}
	return KeyPair{Public: ed25519.PublicKey(pub), Private: ed25519.PrivateKey(priv)}, nil
}

// Ensure loads the key pair in dir, generating and saving one if none exists.
// The bool reports whether a new pair was generated.
func Ensure(dir string) (KeyPair, bool, error) {
	if _, err := os.Stat(filepath.Join(dir, publicKeyFile)); errors.Is(err, os.ErrNotExist) {
		kp, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, false, err
		}
		if err := kp.Save(dir); err != nil {
			return KeyPair{}, false, err
		}
		return kp, true, nil
	}
	kp, err := Load(dir)
	return kp, false, err
}

func readHexKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if len(key) != size {
		return nil, fmt.Errorf("invalid key size %d, want %d", len(key), size)
	}
	return key, nil
}

// VerifyHex checks a hex signature of data against a hex public key.
func VerifyHex(pubHex string, data []byte, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}
