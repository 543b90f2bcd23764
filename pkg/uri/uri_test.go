package uri_test

import (
	"encoding/base64"
	"testing"

	"github.com/arcadian-labs/agentledger/pkg/uri"
)

func TestParse_http(t *testing.T) {
	p, err := uri.Parse("https://example.com/agents/7/passport.json")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != uri.KindHTTP {
		t.Errorf("kind = %v, want KindHTTP", p.Kind)
	}
	fetch, ok := p.FetchURL("")
	if !ok || fetch != "https://example.com/agents/7/passport.json" {
		t.Errorf("fetch url = %q (%v)", fetch, ok)
	}
}

func TestParse_ipfsUsesGateway(t *testing.T) {
	p, err := uri.Parse("ipfs://bafybeigdyrabc/passport.json")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != uri.KindIPFS {
		t.Fatalf("kind = %v, want KindIPFS", p.Kind)
	}
	fetch, ok := p.FetchURL("")
	if !ok || fetch != uri.DefaultIPFSGateway+"bafybeigdyrabc/passport.json" {
		t.Errorf("default gateway fetch url = %q", fetch)
	}
	fetch, _ = p.FetchURL("https://gw.internal/ipfs/")
	if fetch != "https://gw.internal/ipfs/bafybeigdyrabc/passport.json" {
		t.Errorf("custom gateway fetch url = %q", fetch)
	}
}

func TestParse_inlineBase64(t *testing.T) {
	doc := `{"schema_version":"1.0"}`
	raw := "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
	p, err := uri.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != uri.KindInline {
		t.Fatalf("kind = %v, want KindInline", p.Kind)
	}
	if string(p.Inline) != doc {
		t.Errorf("inline = %q, want %q", p.Inline, doc)
	}
	if _, ok := p.FetchURL(""); ok {
		t.Error("inline pointer must not report a fetch URL")
	}
}

func TestParse_rejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"ftp://example.com/passport.json",
		"https://",
		"ipfs://",
		"data:text/html;base64,PGI+",
		"data:application/json;base64,@@@",
	} {
		if _, err := uri.Parse(raw); err == nil {
			t.Errorf("Parse(%q) accepted, want error", raw)
		}
	}
}
