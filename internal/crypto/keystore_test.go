package crypto

import (
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	pk, err := GenerateKey()
	require.NoError(t, err)

	blob, err := Seal(pk, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	got, err := Open(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(pk), ethcrypto.FromECDSA(got))

	_, err = Open(blob, "wrong")
	assert.Error(t, err)
	_, err = Seal(pk, "")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	pk, err := Load(KeySource{Hex: devKey})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	blob, err := Seal(pk, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "judge.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err := LoadSigner(KeySource{File: path, Password: "pw"}, testDomain)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	_, err = Load(KeySource{})
	assert.Error(t, err)
	assert.False(t, KeySource{}.Configured())
	_, err = Load(KeySource{Hex: "nothex"})
	assert.Error(t, err)
}
