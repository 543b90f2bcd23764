package passport_test

import (
	"crypto/ecdsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arcadian-labs/agentledger/pkg/passport"
)

func TestParse_valid(t *testing.T) {
	data := []byte(`{
		"schema_version": "1.0",
		"agent_id": 7,
		"address": "0x1111111111111111111111111111111111111111",
		"name": "Translator",
		"updated_at": "2026-01-01T00:00:00Z",
		"endpoints": [
			{"protocol": "https", "url": "https://translator.example/api"}
		]
	}`)

	p, err := passport.Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.AgentID != 7 {
		t.Errorf("AgentID: got %d, want 7", p.AgentID)
	}
	if len(p.Endpoints) != 1 || p.Endpoints[0].Protocol != "https" {
		t.Errorf("unexpected endpoints: %v", p.Endpoints)
	}
}

func TestParse_missingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{
			name: "missing schema_version",
			data: []byte(`{"agent_id":1,"address":"0x1111111111111111111111111111111111111111"}`),
		},
		{
			name: "missing agent_id",
			data: []byte(`{"schema_version":"1.0","address":"0x1111111111111111111111111111111111111111"}`),
		},
		{
			name: "missing address",
			data: []byte(`{"schema_version":"1.0","agent_id":1}`),
		},
		{
			name: "endpoint without url",
			data: []byte(`{"schema_version":"1.0","agent_id":1,"address":"0x1111111111111111111111111111111111111111","endpoints":[{"protocol":"https","url":""}]}`),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := passport.Parse(tc.data)
			if err == nil {
				t.Error("expected validation error but got nil")
			}
		})
	}
}

func TestSignVerify_roundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	p := &passport.Passport{
		SchemaVersion: passport.SchemaVersion,
		AgentID:       3,
		Address:       crypto.PubkeyToAddress(key.PublicKey),
		Name:          "Indexer",
		Endpoints:     []passport.Endpoint{{Protocol: "https", URL: "https://idx.example"}},
		UpdatedAt:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := p.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := p.Verify(); err != nil {
		t.Fatalf("verify after sign: %v", err)
	}

	// The signature survives a JSON roundtrip.
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := passport.Parse(data)
	if err != nil {
		t.Fatalf("parse signed passport: %v", err)
	}
	if err := parsed.Verify(); err != nil {
		t.Errorf("verify after roundtrip: %v", err)
	}
}

func TestSign_wrongKeyRejected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()

	p := &passport.Passport{
		SchemaVersion: passport.SchemaVersion,
		AgentID:       1,
		Address:       crypto.PubkeyToAddress(key.PublicKey),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := p.Sign(otherKey); err == nil {
		t.Error("expected error signing with mismatched key")
	}
}

func TestVerify_tamperedDocument(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	p := &passport.Passport{
		SchemaVersion: passport.SchemaVersion,
		AgentID:       5,
		Address:       crypto.PubkeyToAddress(key.PublicKey),
		Name:          "Honest Agent",
		UpdatedAt:     time.Now().UTC(),
	}
	if err := p.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}

	p.Name = "Impostor"
	if err := p.Verify(); err == nil {
		t.Error("expected verification failure after tampering")
	}
}

func TestVerify_missingSignature(t *testing.T) {
	p := &passport.Passport{
		SchemaVersion: passport.SchemaVersion,
		AgentID:       1,
		Address:       crypto.PubkeyToAddress(mustKey(t).PublicKey),
	}
	if err := p.Verify(); err == nil {
		t.Error("expected error for unsigned passport")
	}
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}
