package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimpers/betchya/internal/domain"
)

// Well-known development key; address 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266.
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testDomain = Domain{
	Name:              "Betchya",
	Version:           "1",
	ChainID:           31337,
	VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
}

func sampleTx() domain.Tx {
	return domain.Tx{
		Op:          domain.OpCreateBet,
		Nonce:       3,
		Value:       domain.NewAmount(1_000_000),
		Acceptor:    common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Judge:       common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		Description: "ETH closes above 3000 on Friday",
	}
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(devKey, testDomain)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	tx := sampleTx()
	sig, err := s.SignTx(&tx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), tx.From)
	assert.Len(t, sig, 2+65*2)

	v := NewVerifier(testDomain)
	got, err := v.Recover(tx, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
	require.NoError(t, v.Verify(tx, sig))
}

func TestSignatureIgnoresTime(t *testing.T) {
	s, err := NewSigner(devKey, testDomain)
	require.NoError(t, err)
	tx := sampleTx()
	sig, err := s.SignTx(&tx)
	require.NoError(t, err)

	tx.Time = tx.Time.Add(1e9)
	assert.NoError(t, NewVerifier(testDomain).Verify(tx, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	s, err := NewSigner(devKey, testDomain)
	require.NoError(t, err)
	tx := sampleTx()
	sig, err := s.SignTx(&tx)
	require.NoError(t, err)
	v := NewVerifier(testDomain)

	mutations := map[string]func(*domain.Tx){
		"value":       func(tx *domain.Tx) { tx.Value = domain.NewAmount(1) },
		"nonce":       func(tx *domain.Tx) { tx.Nonce++ },
		"description": func(tx *domain.Tx) { tx.Description += "!" },
		"op":          func(tx *domain.Tx) { tx.Op = domain.OpWithdraw },
		"from":        func(tx *domain.Tx) { tx.From = tx.Acceptor },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			bad := tx
			mutate(&bad)
			assert.ErrorIs(t, v.Verify(bad, sig), domain.ErrBadSignature)
		})
	}

	other := testDomain
	other.ChainID = 1
	assert.ErrorIs(t, NewVerifier(other).Verify(tx, sig), domain.ErrBadSignature)
}

func TestRecoverMalformed(t *testing.T) {
	v := NewVerifier(testDomain)
	for _, sig := range []string{"", "0xzz", "0x" + common.Bytes2Hex(make([]byte, 64))} {
		_, err := v.Recover(sampleTx(), sig)
		assert.ErrorIs(t, err, domain.ErrBadSignature, sig)
	}
}

func TestTxHashStable(t *testing.T) {
	v := NewVerifier(testDomain)
	tx := sampleTx()
	assert.Equal(t, v.TxHash(tx), v.TxHash(tx))
	tx.Nonce++
	assert.NotEqual(t, v.TxHash(sampleTx()), v.TxHash(tx))
}

func TestEscrowAddress(t *testing.T) {
	admin := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	// First contract deployed by the default development account.
	assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", EscrowAddress(admin).Hex())
	assert.Equal(t, ethcrypto.CreateAddress(admin, 0), EscrowAddress(admin))
}
