// Package crypto signs and verifies ledger transactions and keeps private
// keys sealed at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	sealedVersion    = 1
)

// sealedKey is the on-disk format for a password-protected private key.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where a private key comes from. Hex wins over File.
type KeySource struct {
	Hex      string
	File     string
	Password string
}

// Configured reports whether any source is set.
func (ks KeySource) Configured() bool {
	return ks.Hex != "" || ks.File != ""
}

// GenerateKey returns a fresh secp256k1 key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return pk, nil
}

// Seal encrypts pk under password with PBKDF2-HMAC-SHA256 and AES-256-GCM.
// The address is stored in clear so a sealed file can be identified without
// the password.
func Seal(pk *ecdsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)
	out := sealedKey{
		Version:    sealedVersion,
		Address:    addr.Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), addr.Bytes())),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Open decrypts a blob produced by Seal.
func Open(blob []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored sealedKey
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if stored.Version != sealedVersion {
		return nil, fmt.Errorf("crypto: unsupported sealed key version %d", stored.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	addr := common.HexToAddress(stored.Address)
	plaintext, err := gcm.Open(nil, nonce, ciphertext, addr.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plaintext)
	if err != nil {
		return nil, fmt.Errorf("crypto: sealed key is not a valid secp256k1 key: %w", err)
	}
	return pk, nil
}

// Load resolves a private key from src.
//
// Resolution order:
//  1. If Hex is set, parse it (0x prefix optional).
//  2. If File is set, read it and Open with Password.
//  3. Otherwise, return an error.
func Load(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.Hex != "" {
		pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(src.Hex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid hex key: %w", err)
		}
		return pk, nil
	}
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading sealed key file: %w", err)
		}
		return Open(data, src.Password)
	}
	return nil, errors.New("crypto: no private key source configured (set a hex key or a sealed key file)")
}

// LoadSigner loads the key from src and binds it to d.
func LoadSigner(src KeySource, d Domain) (*Signer, error) {
	pk, err := Load(src)
	if err != nil {
		return nil, err
	}
	return NewSignerFromKey(pk, d), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
