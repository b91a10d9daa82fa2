package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/kimpers/betchya/internal/domain"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Transaction(uint8 op,address from,uint64 nonce,uint256 value,uint64 betIndex,address acceptor,address judge,string description,uint8 result,address to)
	txTypeHash = ethcrypto.Keccak256(
		[]byte("Transaction(uint8 op,address from,uint64 nonce,uint256 value,uint64 betIndex,address acceptor,address judge,string description,uint8 result,address to)"),
	)
)

// Domain is the EIP-712 signing domain. VerifyingContract is the escrow
// address, which binds a signature to one ledger deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Separator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(big.NewInt(d.ChainID)),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	)
}

// EscrowAddress derives the escrow account from the administrator address
// the same way a contract deployed as the administrator's first transaction
// would be addressed.
func EscrowAddress(admin common.Address) common.Address {
	return ethcrypto.CreateAddress(admin, 0)
}

// Signer signs ledger transactions with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, d Domain) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, d), nil
}

func NewSignerFromKey(pk *ecdsa.PrivateKey, d Domain) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  d.Separator(),
	}
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx stamps tx.From with the signer's address and returns the hex
// encoded 65-byte signature over the transaction digest.
func (s *Signer) SignTx(tx *domain.Tx) (string, error) {
	tx.From = s.address
	return s.signDigest(TxDigest(s.domainSep, *tx))
}

// Verifier recovers transaction senders for one signing domain.
type Verifier struct {
	domainSep []byte
}

func NewVerifier(d Domain) *Verifier {
	return &Verifier{domainSep: d.Separator()}
}

// Recover returns the address that produced sigHex over tx. It does not
// compare the result with tx.From.
func (v *Verifier) Recover(tx domain.Tx, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", domain.ErrBadSignature)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes: %w", len(sig), domain.ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(TxDigest(v.domainSep, tx), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %v: %w", err, domain.ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify recovers the signer and checks it matches tx.From.
func (v *Verifier) Verify(tx domain.Tx, sigHex string) error {
	addr, err := v.Recover(tx, sigHex)
	if err != nil {
		return err
	}
	if addr != tx.From {
		return fmt.Errorf("crypto/signer: signed by %s, claims %s: %w", addr.Hex(), tx.From.Hex(), domain.ErrBadSignature)
	}
	return nil
}

// TxHash is the hex digest used to identify a transaction in the journal.
func (v *Verifier) TxHash(tx domain.Tx) string {
	return "0x" + hex.EncodeToString(TxDigest(v.domainSep, tx))
}

// TxDigest computes the EIP-712 digest of tx under domainSep. Time is not
// part of the digest; the sequencer assigns it after signing.
func TxDigest(domainSep []byte, tx domain.Tx) []byte {
	return eip712Hash(domainSep, txStructHash(tx))
}

func txStructHash(tx domain.Tx) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			txTypeHash,
			bigIntTo32Bytes(big.NewInt(int64(tx.Op))),
			common.LeftPadBytes(tx.From.Bytes(), 32),
			bigIntTo32Bytes(new(big.Int).SetUint64(tx.Nonce)),
			bigIntTo32Bytes(tx.Value.Big()),
			bigIntTo32Bytes(new(big.Int).SetUint64(tx.BetIndex)),
			common.LeftPadBytes(tx.Acceptor.Bytes(), 32),
			common.LeftPadBytes(tx.Judge.Bytes(), 32),
			ethcrypto.Keccak256([]byte(tx.Description)),
			bigIntTo32Bytes(big.NewInt(int64(tx.Result))),
			common.LeftPadBytes(tx.To.Bytes(), 32),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest and returns the hex-encoded signature
// (r || s || v, 65 bytes) with v in {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
