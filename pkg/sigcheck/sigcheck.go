// Package sigcheck implements deadline-bound authorization over
// domain-separated structured messages.
//
// A Message binds a fixed schema of typed fields plus an expiry deadline into
// a single 32-byte digest. The Verifier accepts a digest as authorized by a
// claimed signer address in one of two ways, transparently to the caller:
//
//   - key-holder signers: the 65-byte signature must recover (secp256k1) to
//     the claimed address;
//   - contract-like signers: validation is delegated to a ContractSigner
//     registered for that address, which validates on its own behalf.
//
// Both the registry and its clients construct digests through the same
// message constructors in messages.go, so a signature produced client-side
// verifies byte-for-byte on the ledger.
package sigcheck

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arcadian-labs/agentledger/pkg/regerr"
)

// domainTag separates this registry's digests from every other signing
// context. Changing it invalidates all previously issued signatures.
const domainTag = "agentledger/v1"

// Message is a domain-separated structured payload with an expiry.
// Fields are hashed in schema order; two messages with the same purpose and
// the same field values always produce the same digest.
type Message struct {
	Purpose  string
	Fields   [][]byte
	Deadline time.Time
}

// Digest returns the 32-byte Keccak-256 commitment to the message.
// Each field is hashed individually before the outer hash, so field
// boundaries cannot be shifted to forge a colliding payload.
func (m Message) Digest() common.Hash {
	chunks := make([][]byte, 0, len(m.Fields)+3)
	chunks = append(chunks, crypto.Keccak256([]byte(domainTag)))
	chunks = append(chunks, crypto.Keccak256([]byte(m.Purpose)))
	for _, f := range m.Fields {
		chunks = append(chunks, crypto.Keccak256(f))
	}
	var deadline [8]byte
	binary.BigEndian.PutUint64(deadline[:], uint64(m.Deadline.Unix()))
	chunks = append(chunks, deadline[:])
	return crypto.Keccak256Hash(chunks...)
}

// ContractSigner validates signatures on behalf of a contract-like address
// that has no recoverable key of its own.
type ContractSigner interface {
	// ValidSignature reports whether sig is an acceptable authorization
	// of digest by this signer.
	ValidSignature(digest common.Hash, sig []byte) bool
}

// Verifier checks that a claimed address authorized a Message before its
// deadline. It is safe for concurrent use.
type Verifier struct {
	mu        sync.RWMutex
	contracts map[common.Address]ContractSigner
	now       func() time.Time
}

// New creates a Verifier using the wall clock.
func New() *Verifier {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Verifier with an injected clock. Tests use this to
// pin execution time around a deadline.
func NewWithClock(now func() time.Time) *Verifier {
	return &Verifier{
		contracts: make(map[common.Address]ContractSigner),
		now:       now,
	}
}

// RegisterContract associates addr with a ContractSigner. Subsequent Verify
// calls naming addr delegate validation to it instead of key recovery.
func (v *Verifier) RegisterContract(addr common.Address, cs ContractSigner) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contracts[addr] = cs
}

// Verify reports whether signer authorized msg and the deadline has not
// passed. The deadline is always evaluated against the verifier's clock at
// call time, never against signing time: a signature produced in time but
// submitted late is rejected.
func (v *Verifier) Verify(msg Message, signer common.Address, sig []byte) error {
	if now := v.now(); now.After(msg.Deadline) {
		return fmt.Errorf("%w: deadline %s passed at %s",
			regerr.ErrSignature, msg.Deadline.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	digest := msg.Digest()

	v.mu.RLock()
	cs, isContract := v.contracts[signer]
	v.mu.RUnlock()

	if isContract {
		if !cs.ValidSignature(digest, sig) {
			return fmt.Errorf("%w: contract signer %s rejected signature", regerr.ErrSignature, signer.Hex())
		}
		return nil
	}

	recovered, err := recoverAddress(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", regerr.ErrSignature, err)
	}
	if recovered != signer {
		return fmt.Errorf("%w: recovered %s, claimed %s", regerr.ErrSignature, recovered.Hex(), signer.Hex())
	}
	return nil
}

// recoverAddress runs secp256k1 public key recovery on a 65-byte
// [R || S || V] signature. V may be 0/1 or the legacy 27/28 form.
func recoverAddress(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	norm := make([]byte, crypto.SignatureLength)
	copy(norm, sig)
	if norm[crypto.RecoveryIDOffset] >= 27 {
		norm[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a 65-byte recoverable signature over the message digest.
// It is the client-side counterpart of Verify.
func Sign(msg Message, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(msg.Digest().Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	return sig, nil
}
