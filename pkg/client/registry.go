package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Agent mirrors the registry's agent record.
type Agent struct {
	ID            uint64            `json:"id"`
	Owner         common.Address    `json:"owner"`
	AgentAddress  common.Address    `json:"agent_address"`
	PaymentWallet common.Address    `json:"payment_wallet"`
	URI           string            `json:"uri"`
	Metadata      map[string][]byte `json:"metadata,omitempty"`
	RegisteredAt  time.Time         `json:"registered_at"`
}

// MetadataEntry is one key/value pair set at registration time.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// RegisterAgent registers a new agent owned by the client's address and
// returns its id.
func (c *Client) RegisterAgent(ctx context.Context, uri string, metadata []MetadataEntry) (uint64, error) {
	var resp struct {
		ID uint64 `json:"id"`
	}
	err := c.authed(ctx, http.MethodPost, "/api/v1/agents",
		map[string]any{"uri": uri, "metadata": metadata}, &resp)
	return resp.ID, err
}

// RegisterDelegated registers an agent on behalf of owner. The client's own
// address becomes the agent address; authorization carries the owner's
// signature over (agent address, uri, deadline).
func (c *Client) RegisterDelegated(ctx context.Context, uri string, owner common.Address, deadline time.Time, signature []byte) (uint64, error) {
	var resp struct {
		ID uint64 `json:"id"`
	}
	err := c.authed(ctx, http.MethodPost, "/api/v1/delegated-registrations", map[string]any{
		"uri":       uri,
		"owner":     owner.Hex(),
		"deadline":  deadline.Unix(),
		"signature": hexutil.Encode(signature),
	}, &resp)
	return resp.ID, err
}

// GetAgent fetches one agent record.
func (c *Client) GetAgent(ctx context.Context, id uint64) (*Agent, error) {
	var a Agent
	if err := c.public(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%d", id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Transfer moves an agent to a new owner.
func (c *Client) Transfer(ctx context.Context, id uint64, newOwner common.Address) error {
	return c.authed(ctx, http.MethodPost, fmt.Sprintf("/api/v1/agents/%d/transfer", id),
		map[string]any{"new_owner": newOwner.Hex()}, nil)
}

// SetURI replaces an agent's registration URI and returns the previous one.
func (c *Client) SetURI(ctx context.Context, id uint64, uri string) (string, error) {
	var resp struct {
		OldURI string `json:"old_uri"`
	}
	err := c.authed(ctx, http.MethodPut, fmt.Sprintf("/api/v1/agents/%d/uri", id),
		map[string]any{"uri": uri}, &resp)
	return resp.OldURI, err
}

// SetMetadata writes one metadata key. An empty value deletes the key.
func (c *Client) SetMetadata(ctx context.Context, id uint64, key string, value []byte) error {
	return c.authed(ctx, http.MethodPut, fmt.Sprintf("/api/v1/agents/%d/metadata/%s", id, escape(key)),
		map[string]any{"value": value}, nil)
}

// GetMetadata reads one metadata key. Unset keys return nil.
func (c *Client) GetMetadata(ctx context.Context, id uint64, key string) ([]byte, error) {
	var resp struct {
		Value []byte `json:"value"`
	}
	err := c.public(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%d/metadata/%s", id, escape(key)), &resp)
	return resp.Value, err
}

// SetWallet points an agent's payment wallet at wallet. proof is the wallet
// key's signature over (agent id, wallet, deadline).
func (c *Client) SetWallet(ctx context.Context, id uint64, wallet common.Address, deadline time.Time, proof []byte) error {
	return c.authed(ctx, http.MethodPut, fmt.Sprintf("/api/v1/agents/%d/wallet", id), map[string]any{
		"wallet":    wallet.Hex(),
		"deadline":  deadline.Unix(),
		"signature": hexutil.Encode(proof),
	}, nil)
}

// UnsetWallet clears an agent's payment wallet.
func (c *Client) UnsetWallet(ctx context.Context, id uint64) error {
	return c.authed(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/agents/%d/wallet", id), nil, nil)
}

// Wallet returns an agent's payment wallet; the zero address when unset.
func (c *Client) Wallet(ctx context.Context, id uint64) (common.Address, error) {
	var resp struct {
		Wallet string `json:"wallet"`
	}
	if err := c.public(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%d/wallet", id), &resp); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(resp.Wallet), nil
}

// Approve sets (or, with the zero address, clears) the agent's delegate.
func (c *Client) Approve(ctx context.Context, id uint64, delegate common.Address) error {
	return c.authed(ctx, http.MethodPost, fmt.Sprintf("/api/v1/agents/%d/approve", id),
		map[string]any{"delegate": delegate.Hex()}, nil)
}

// SetOperator grants or revokes operator capability over all of the caller's
// agents.
func (c *Client) SetOperator(ctx context.Context, operator common.Address, granted bool) error {
	return c.authed(ctx, http.MethodPost, "/api/v1/operators",
		map[string]any{"operator": operator.Hex(), "granted": granted}, nil)
}

// Destroy removes an agent permanently.
func (c *Client) Destroy(ctx context.Context, id uint64) error {
	return c.authed(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/agents/%d", id), nil, nil)
}

// AgentsOf lists the ids owned by owner.
func (c *Client) AgentsOf(ctx context.Context, owner common.Address) ([]uint64, error) {
	var resp struct {
		Agents []uint64 `json:"agents"`
	}
	err := c.public(ctx, http.MethodGet, "/api/v1/owners/"+owner.Hex()+"/agents", &resp)
	return resp.Agents, err
}

// Feedback mirrors one reputation ledger entry.
type Feedback struct {
	AgentID     uint64         `json:"agent_id"`
	Client      common.Address `json:"client"`
	Index       uint64         `json:"index"`
	Value       int64          `json:"value"`
	Decimals    uint8          `json:"decimals"`
	Tag1        string         `json:"tag1,omitempty"`
	Tag2        string         `json:"tag2,omitempty"`
	EndpointRef string         `json:"endpoint_ref,omitempty"`
	DocRef      string         `json:"doc_ref,omitempty"`
	ContentHash common.Hash    `json:"content_hash"`
	Revoked     bool           `json:"revoked"`
	CreatedAt   time.Time      `json:"created_at"`
}

// GiveFeedbackRequest carries the optional fields of GiveFeedback.
type GiveFeedbackRequest struct {
	Value       int64       `json:"value"`
	Decimals    uint8       `json:"decimals"`
	Tag1        string      `json:"tag1,omitempty"`
	Tag2        string      `json:"tag2,omitempty"`
	EndpointRef string      `json:"endpoint_ref,omitempty"`
	DocRef      string      `json:"doc_ref,omitempty"`
	ContentHash common.Hash `json:"content_hash"`
}

// GiveFeedback appends one feedback entry about agent id and returns its
// per-client index.
func (c *Client) GiveFeedback(ctx context.Context, id uint64, req GiveFeedbackRequest) (uint64, error) {
	var resp struct {
		Index uint64 `json:"index"`
	}
	err := c.authed(ctx, http.MethodPost, fmt.Sprintf("/api/v1/agents/%d/feedback", id), req, &resp)
	return resp.Index, err
}

// RevokeFeedback revokes the caller's entry at index.
func (c *Client) RevokeFeedback(ctx context.Context, id, index uint64) error {
	return c.authed(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/agents/%d/feedback/%d", id, index), nil, nil)
}

// RespondToFeedback appends one response to the (agent, client, index)
// thread.
func (c *Client) RespondToFeedback(ctx context.Context, id uint64, client common.Address, index uint64, responseRef string, responseHash common.Hash) error {
	return c.authed(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/agents/%d/feedback/%s/%d/responses", id, client.Hex(), index),
		map[string]any{"response_ref": responseRef, "response_hash": responseHash}, nil)
}

// ReadFeedback fetches one entry.
func (c *Client) ReadFeedback(ctx context.Context, id uint64, client common.Address, index uint64) (*Feedback, error) {
	var fb Feedback
	if err := c.public(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/agents/%d/feedback/%s/%d", id, client.Hex(), index), &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// FeedbackFilter narrows aggregate reads. A nil Clients slice means all
// clients where the endpoint allows it.
type FeedbackFilter struct {
	Clients        []common.Address
	Tag1, Tag2     string
	IncludeRevoked bool
}

func (f FeedbackFilter) query() string {
	params := make([]string, 0, 4)
	if len(f.Clients) > 0 {
		hexes := make([]string, len(f.Clients))
		for i, a := range f.Clients {
			hexes[i] = a.Hex()
		}
		params = append(params, "clients="+strings.Join(hexes, ","))
	}
	if f.Tag1 != "" {
		params = append(params, "tag1="+escape(f.Tag1))
	}
	if f.Tag2 != "" {
		params = append(params, "tag2="+escape(f.Tag2))
	}
	if f.IncludeRevoked {
		params = append(params, "include_revoked=true")
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + strings.Join(params, "&")
}

// FeedbackPage is the parallel-slice result of ReadAllFeedback.
type FeedbackPage struct {
	Clients     []common.Address `json:"clients"`
	Indexes     []uint64         `json:"indexes"`
	Values      []int64          `json:"values"`
	Decimals    []uint8          `json:"decimals"`
	Tag1s       []string         `json:"tag1s"`
	Tag2s       []string         `json:"tag2s"`
	Revoked     []bool           `json:"revoked"`
	ContentHash []common.Hash    `json:"content_hashes"`
}

// ReadAllFeedback fetches every entry matching the filter.
func (c *Client) ReadAllFeedback(ctx context.Context, id uint64, filter FeedbackFilter) (*FeedbackPage, error) {
	var page FeedbackPage
	if err := c.public(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/agents/%d/feedback%s", id, filter.query()), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FeedbackSummary returns the count and truncated average of matching
// entries. The filter must name at least one client.
func (c *Client) FeedbackSummary(ctx context.Context, id uint64, filter FeedbackFilter) (count uint64, average int64, err error) {
	var resp struct {
		Count   uint64 `json:"count"`
		Average int64  `json:"average"`
	}
	err = c.public(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/agents/%d/feedback-summary%s", id, filter.query()), &resp)
	return resp.Count, resp.Average, err
}

// FeedbackClients lists every address that has given feedback about agent id.
func (c *Client) FeedbackClients(ctx context.Context, id uint64) ([]common.Address, error) {
	var resp struct {
		Clients []common.Address `json:"clients"`
	}
	err := c.public(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%d/clients", id), &resp)
	return resp.Clients, err
}

// LastFeedbackIndex returns the highest index client has used for agent id.
func (c *Client) LastFeedbackIndex(ctx context.Context, id uint64, client common.Address) (uint64, error) {
	var resp struct {
		LastIndex uint64 `json:"last_index"`
	}
	err := c.public(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/agents/%d/last-index/%s", id, client.Hex()), &resp)
	return resp.LastIndex, err
}

// RegisterName binds a name to agent id. The caller must own the agent.
func (c *Client) RegisterName(ctx context.Context, name string, id uint64) error {
	return c.authed(ctx, http.MethodPost, "/api/v1/names",
		map[string]any{"name": name, "agent_id": id}, nil)
}

// ReleaseName unbinds a name. The caller must currently own the bound agent.
func (c *Client) ReleaseName(ctx context.Context, name string) error {
	return c.authed(ctx, http.MethodDelete, "/api/v1/names",
		map[string]any{"name": name}, nil)
}

// ResolveName returns the agent id a name points at; 0 when unbound.
func (c *Client) ResolveName(ctx context.Context, name string) (uint64, error) {
	var resp struct {
		AgentID uint64 `json:"agent_id"`
	}
	err := c.public(ctx, http.MethodGet, "/api/v1/names/resolve?name="+escape(name), &resp)
	return resp.AgentID, err
}

// ResolveNameOwner returns the owner of the agent a name points at.
func (c *Client) ResolveNameOwner(ctx context.Context, name string) (common.Address, error) {
	var resp struct {
		Owner string `json:"owner"`
	}
	if err := c.public(ctx, http.MethodGet, "/api/v1/names/owner?name="+escape(name), &resp); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(resp.Owner), nil
}

// NameAvailable reports whether a name can currently be registered.
func (c *Client) NameAvailable(ctx context.Context, name string) (bool, error) {
	var resp struct {
		Available bool `json:"available"`
	}
	err := c.public(ctx, http.MethodGet, "/api/v1/names/available?name="+escape(name), &resp)
	return resp.Available, err
}

// AgentName returns the name bound to agent id; "" when none.
func (c *Client) AgentName(ctx context.Context, id uint64) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	err := c.public(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%d/name", id), &resp)
	return resp.Name, err
}

// Event mirrors one entry of the registry's hash-chained notification log.
type Event struct {
	Index     int       `json:"index"`
	Type      string    `json:"type"`
	AgentID   uint64    `json:"agent_id"`
	Actor     string    `json:"actor"`
	Payload   []byte    `json:"payload"` // JSON document of the operation's key fields
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPage is the result of Events.
type EventPage struct {
	Total  int     `json:"total"`
	Root   string  `json:"root"`
	Events []Event `json:"events"`
}

// Events fetches a page of the notification log.
func (c *Client) Events(ctx context.Context, from, limit int) (*EventPage, error) {
	var page EventPage
	if err := c.public(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/events?from=%d&limit=%d", from, limit), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// VerifyEvents asks the registry to walk its event chain; a nil error means
// the chain is intact.
func (c *Client) VerifyEvents(ctx context.Context) error {
	var resp struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.public(ctx, http.MethodGet, "/api/v1/events/verify", &resp); err != nil {
		return err
	}
	if !resp.Valid {
		return fmt.Errorf("event chain invalid: %s", resp.Error)
	}
	return nil
}
