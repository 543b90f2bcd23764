package sigcheck_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arcadian-labs/agentledger/pkg/regerr"
	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestVerify_keyHolderRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)

	now := time.Unix(1_700_000_000, 0)
	msg := sigcheck.DelegatedRegistration(common.HexToAddress("0x01"), "https://example.com/passport.json", now.Add(time.Hour))

	sig, err := sigcheck.Sign(msg, key)
	if err != nil {
		t.Fatal(err)
	}

	v := sigcheck.NewWithClock(fixedClock(now))
	if err := v.Verify(msg, signer, sig); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestVerify_wrongSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()

	now := time.Unix(1_700_000_000, 0)
	msg := sigcheck.WalletProof(7, common.HexToAddress("0xbeef"), now.Add(time.Hour))
	sig, _ := sigcheck.Sign(msg, key)

	v := sigcheck.NewWithClock(fixedClock(now))
	err := v.Verify(msg, crypto.PubkeyToAddress(other.PublicKey), sig)
	if !errors.Is(err, regerr.ErrSignature) {
		t.Errorf("expected ErrSignature for wrong signer, got %v", err)
	}
}

func TestVerify_deadlinePassed(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)

	deadline := time.Unix(1_700_000_000, 0)
	msg := sigcheck.WalletProof(1, signer, deadline)
	sig, _ := sigcheck.Sign(msg, key)

	// Signature was produced in time but is submitted after the deadline:
	// validity follows the verifier's clock, not signing time.
	v := sigcheck.NewWithClock(fixedClock(deadline.Add(time.Second)))
	if err := v.Verify(msg, signer, sig); !errors.Is(err, regerr.ErrSignature) {
		t.Errorf("expected ErrSignature after deadline, got %v", err)
	}

	// At the deadline the signature is still acceptable.
	v = sigcheck.NewWithClock(fixedClock(deadline))
	if err := v.Verify(msg, signer, sig); err != nil {
		t.Errorf("signature at deadline rejected: %v", err)
	}
}

func TestVerify_fieldTampering(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)

	now := time.Unix(1_700_000_000, 0)
	deadline := now.Add(time.Hour)
	signed := sigcheck.DelegatedRegistration(common.HexToAddress("0x01"), "https://a.example/p.json", deadline)
	sig, _ := sigcheck.Sign(signed, key)

	v := sigcheck.NewWithClock(fixedClock(now))

	tampered := []sigcheck.Message{
		sigcheck.DelegatedRegistration(common.HexToAddress("0x02"), "https://a.example/p.json", deadline),
		sigcheck.DelegatedRegistration(common.HexToAddress("0x01"), "https://b.example/p.json", deadline),
		sigcheck.WalletProof(1, common.HexToAddress("0x01"), deadline),
	}
	for i, msg := range tampered {
		if err := v.Verify(msg, signer, sig); !errors.Is(err, regerr.ErrSignature) {
			t.Errorf("tampered message %d accepted: %v", i, err)
		}
	}
}

func TestVerify_legacyRecoveryID(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)

	now := time.Unix(1_700_000_000, 0)
	msg := sigcheck.SessionLogin(signer, "nonce-1", now.Add(time.Minute))
	sig, _ := sigcheck.Sign(msg, key)

	// Some wallets emit V as 27/28 instead of 0/1.
	legacy := make([]byte, len(sig))
	copy(legacy, sig)
	legacy[64] += 27

	v := sigcheck.NewWithClock(fixedClock(now))
	if err := v.Verify(msg, signer, legacy); err != nil {
		t.Errorf("legacy V signature rejected: %v", err)
	}
}

// acceptOne is a contract signer that accepts a single known signature blob.
type acceptOne struct{ want []byte }

func (a acceptOne) ValidSignature(_ common.Hash, sig []byte) bool {
	return string(sig) == string(a.want)
}

func TestVerify_contractSigner(t *testing.T) {
	contract := common.HexToAddress("0xc0ffee")
	now := time.Unix(1_700_000_000, 0)
	msg := sigcheck.WalletProof(3, contract, now.Add(time.Hour))

	v := sigcheck.NewWithClock(fixedClock(now))
	v.RegisterContract(contract, acceptOne{want: []byte("magic")})

	if err := v.Verify(msg, contract, []byte("magic")); err != nil {
		t.Errorf("contract-approved signature rejected: %v", err)
	}
	if err := v.Verify(msg, contract, []byte("not magic")); !errors.Is(err, regerr.ErrSignature) {
		t.Errorf("expected ErrSignature from contract rejection, got %v", err)
	}
}

func TestVerify_malformedSignature(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)

	now := time.Unix(1_700_000_000, 0)
	msg := sigcheck.WalletProof(1, signer, now.Add(time.Hour))

	v := sigcheck.NewWithClock(fixedClock(now))
	if err := v.Verify(msg, signer, []byte{0x01, 0x02}); !errors.Is(err, regerr.ErrSignature) {
		t.Errorf("expected ErrSignature for short blob, got %v", err)
	}
}
