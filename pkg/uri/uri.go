// Package uri classifies passport pointers. The registry stores a pointer
// verbatim; tooling that actually fetches the passport (probes, CLIs,
// seeders) uses this package to decide whether and how a pointer can be
// dereferenced.
//
// Supported forms:
//
//	https://example.com/passport.json   (fetched directly)
//	http://localhost:9000/passport.json (fetched directly)
//	ipfs://bafybeih.../passport.json    (fetched via a gateway)
//	data:application/json;base64,...    (decoded inline)
package uri

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// DefaultIPFSGateway dereferences ipfs:// pointers when the caller does not
// supply its own gateway.
const DefaultIPFSGateway = "https://ipfs.io/ipfs/"

// Kind is the pointer's dereference strategy.
type Kind int

const (
	// KindHTTP pointers are fetched with a plain GET.
	KindHTTP Kind = iota
	// KindIPFS pointers are rewritten onto an HTTP gateway first.
	KindIPFS
	// KindInline pointers carry the document in the URI itself.
	KindInline
)

// Pointer is a parsed passport pointer.
type Pointer struct {
	Kind Kind
	raw  string

	// CID is set for ipfs pointers: the content id plus any subpath.
	CID string

	// Inline is set for data pointers: the decoded document bytes.
	Inline []byte
}

// Parse classifies a passport pointer. It rejects pointers that no tool in
// this module could dereference; it says nothing about whether the document
// behind the pointer exists or is valid.
func Parse(raw string) (*Pointer, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty pointer")
	}
	if strings.HasPrefix(raw, "data:") {
		inline, err := parseInline(raw)
		if err != nil {
			return nil, err
		}
		return &Pointer{Kind: KindInline, raw: raw, Inline: inline}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid pointer: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("pointer %q has no host", raw)
		}
		return &Pointer{Kind: KindHTTP, raw: raw}, nil
	case "ipfs":
		cid := u.Host + u.Path
		if cid == "" {
			return nil, fmt.Errorf("pointer %q has no content id", raw)
		}
		return &Pointer{Kind: KindIPFS, raw: raw, CID: cid}, nil
	default:
		return nil, fmt.Errorf("unsupported pointer scheme %q", u.Scheme)
	}
}

// String returns the pointer as stored in the registry.
func (p *Pointer) String() string { return p.raw }

// FetchURL returns the HTTP URL to GET for this pointer, routing ipfs
// pointers through gateway (empty = DefaultIPFSGateway). Inline pointers
// have no fetch URL.
func (p *Pointer) FetchURL(gateway string) (string, bool) {
	switch p.Kind {
	case KindHTTP:
		return p.raw, true
	case KindIPFS:
		if gateway == "" {
			gateway = DefaultIPFSGateway
		}
		return gateway + p.CID, true
	default:
		return "", false
	}
}

// parseInline decodes a data: pointer. Only JSON payloads are accepted,
// base64-encoded or URL-escaped.
func parseInline(raw string) ([]byte, error) {
	rest := strings.TrimPrefix(raw, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data pointer")
	}
	base64Encoded := strings.HasSuffix(meta, ";base64")
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType != "" && mediaType != "application/json" {
		return nil, fmt.Errorf("unsupported inline media type %q", mediaType)
	}
	if base64Encoded {
		doc, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode inline passport: %w", err)
		}
		return doc, nil
	}
	doc, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode inline passport: %w", err)
	}
	return []byte(doc), nil
}
