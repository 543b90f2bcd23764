// Package passport defines the registration document an agent's URI points
// at. A passport is self-describing and self-certifying: the document is
// signed by the agent's address, so a reader who resolved the URI from the
// registry can check that the document was authored by the registered agent
// without any further round trip.
package passport

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arcadian-labs/agentledger/pkg/uri"
)

// SchemaVersion is the current passport schema version.
const SchemaVersion = "1.0"

// Endpoint is one way of reaching the agent.
type Endpoint struct {
	Protocol string `json:"protocol"` // e.g. "https", "grpc", "ws"
	URL      string `json:"url"`
}

// Passport is the registration document.
type Passport struct {
	SchemaVersion string `json:"schema_version"`

	// AgentID is the registry id this document describes.
	AgentID uint64 `json:"agent_id"`

	// Address is the agent's operational address; the signature must
	// recover to it.
	Address common.Address `json:"address"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	Endpoints    []Endpoint        `json:"endpoints,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	// Signature is the agent key's signature over the canonical form;
	// 0x-hex. Excluded from the signed payload.
	Signature string `json:"signature,omitempty"`
}

// Parse decodes and validates a passport from JSON bytes. It does not check
// the signature; call Verify for that.
func Parse(data []byte) (*Passport, error) {
	var p Passport
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode passport: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Fetch dereferences and parses a passport pointer. Inline (data:) pointers
// are decoded directly; ipfs:// pointers go through the default gateway.
func Fetch(rawPointer string) (*Passport, error) {
	ptr, err := uri.Parse(rawPointer)
	if err != nil {
		return nil, fmt.Errorf("invalid passport pointer %q: %w", rawPointer, err)
	}
	if ptr.Kind == uri.KindInline {
		return Parse(ptr.Inline)
	}
	fetchURL, _ := ptr.FetchURL("")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(fetchURL) //nolint:noctx
	if err != nil {
		return nil, fmt.Errorf("fetch passport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("passport fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return nil, fmt.Errorf("read passport body: %w", err)
	}
	return Parse(body)
}

// Validate checks required fields.
func (p *Passport) Validate() error {
	if p.SchemaVersion == "" {
		return fmt.Errorf("passport: schema_version is required")
	}
	if p.AgentID == 0 {
		return fmt.Errorf("passport: agent_id is required")
	}
	if p.Address == (common.Address{}) {
		return fmt.Errorf("passport: address is required")
	}
	for i, ep := range p.Endpoints {
		if ep.Protocol == "" || ep.URL == "" {
			return fmt.Errorf("passport: endpoint %d is missing protocol or url", i)
		}
	}
	return nil
}

// digest returns the Keccak-256 hash of the canonical form: the document
// serialized with an empty signature field. JSON marshalling of the struct
// is deterministic (fixed field order), which makes the form canonical as
// long as both sides run this code.
func (p *Passport) digest() ([]byte, error) {
	clone := *p
	clone.Signature = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("canonicalize passport: %w", err)
	}
	return crypto.Keccak256(data), nil
}

// Sign computes and embeds the signature. The key must correspond to
// p.Address.
func (p *Passport) Sign(key *ecdsa.PrivateKey) error {
	if crypto.PubkeyToAddress(key.PublicKey) != p.Address {
		return fmt.Errorf("passport: signing key does not match address %s", p.Address.Hex())
	}
	digest, err := p.digest()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("sign passport: %w", err)
	}
	p.Signature = hexutil.Encode(sig)
	return nil
}

// Verify checks that the embedded signature recovers to p.Address.
func (p *Passport) Verify() error {
	if p.Signature == "" {
		return fmt.Errorf("passport: no signature")
	}
	sig, err := hexutil.Decode(p.Signature)
	if err != nil {
		return fmt.Errorf("passport: signature is not 0x-hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("passport: signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	digest, err := p.digest()
	if err != nil {
		return err
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("passport: recover public key: %w", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != p.Address {
		return fmt.Errorf("passport: signature recovers to %s, document claims %s",
			recovered.Hex(), p.Address.Hex())
	}
	return nil
}
