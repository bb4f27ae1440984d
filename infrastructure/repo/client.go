// Package repo provides the HTTP client for the authoritative content
// repository's indexing API.
package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tracksync/tracksync/domain/acl"
	"github.com/tracksync/tracksync/domain/node"
	domainrepo "github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/txn"
)

// Transform status header names on text-content responses.
const (
	headerTransformStatus   = "X-Transform-Status"
	headerTransformDuration = "X-Transform-Duration"
	headerTransformError    = "X-Transform-Exception"
	headerContentVersion    = "X-Content-Version"
)

// HTTPClient pulls ordered deltas from the repository's indexing API.
type HTTPClient struct {
	baseURL      string
	maxRetries   int
	initialDelay time.Duration
	httpClient   *http.Client
}

var _ domainrepo.Client = (*HTTPClient)(nil)

// Option is a functional option for HTTPClient.
type Option func(*HTTPClient)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// WithMaxRetries sets the in-call retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// WithInitialDelay sets the initial retry delay.
func WithInitialDelay(d time.Duration) Option {
	return func(c *HTTPClient) { c.initialDelay = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a repository client against the given base URL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:      baseURL,
		maxRetries:   3,
		initialDelay: time.Second,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- wire types ---

type transactionPayload struct {
	ID           int64 `json:"id"`
	CommitTimeMs int64 `json:"commitTimeMs"`
	Updates      int64 `json:"updates"`
	Deletes      int64 `json:"deletes"`
}

type transactionsResponse struct {
	Transactions []transactionPayload `json:"transactions"`
}

type changeSetPayload struct {
	ID           int64 `json:"id"`
	CommitTimeMs int64 `json:"commitTimeMs"`
	AclCount     int64 `json:"aclCount"`
}

type changeSetsResponse struct {
	AclChangeSets []changeSetPayload `json:"aclChangeSets"`
}

type nodesRequest struct {
	TxnIDs []int64 `json:"txnIds"`
}

type nodePayload struct {
	ID     int64  `json:"id"`
	TxnID  int64  `json:"txnId"`
	AclID  int64  `json:"aclId"`
	Status string `json:"status"`
	Tenant string `json:"tenantDomain"`
}

type nodesResponse struct {
	Nodes []nodePayload `json:"nodes"`
}

type metadataRequest struct {
	NodeIDs           []int64 `json:"nodeIds,omitempty"`
	FromNodeID        int64   `json:"fromNodeId,omitempty"`
	ToNodeID          int64   `json:"toNodeId,omitempty"`
	IncludeProperties bool    `json:"includeProperties"`
	IncludeAspects    bool    `json:"includeAspects"`
	IncludePaths      bool    `json:"includePaths"`
	IncludeAncestors  bool    `json:"includeAncestors"`
	IncludeOwner      bool    `json:"includeOwner"`
}

type propertyPayload struct {
	Value     string            `json:"value,omitempty"`
	Locale    string            `json:"locale,omitempty"`
	Values    []propertyPayload `json:"values,omitempty"`
	ContentID int64             `json:"contentId,omitempty"`
	MimeType  string            `json:"mimeType,omitempty"`
	Encoding  string            `json:"encoding,omitempty"`
	Size      int64             `json:"size,omitempty"`
}

type metadataPayload struct {
	ID         int64                      `json:"id"`
	TxnID      int64                      `json:"txnId"`
	AclID      int64                      `json:"aclId"`
	Tenant     string                     `json:"tenantDomain"`
	Type       string                     `json:"type"`
	Aspects    []string                   `json:"aspects"`
	Properties map[string]propertyPayload `json:"properties"`
	NodeRef    string                     `json:"nodeRef"`
	ParentRef  string                     `json:"parentRef"`
	Path       string                     `json:"path"`
	NamePaths  [][]string                 `json:"namePaths"`
	Ancestors  []string                   `json:"ancestors"`
	ChildCount int                        `json:"childCount"`
	Owner      string                     `json:"owner"`
}

type metadataResponse struct {
	Nodes []metadataPayload `json:"nodes"`
}

type aclsRequest struct {
	ChangeSetIDs []int64 `json:"aclChangeSetIds"`
}

type aclsResponse struct {
	AclIDs []int64 `json:"aclIds"`
}

type readersRequest struct {
	AclIDs []int64 `json:"aclIds"`
}

type readersPayload struct {
	AclID       int64    `json:"aclId"`
	ChangeSetID int64    `json:"aclChangeSetId"`
	Readers     []string `json:"readers"`
	Denied      []string `json:"denied"`
}

type readersResponse struct {
	AclsReaders []readersPayload `json:"aclsReaders"`
}

type modelSnapshotPayload struct {
	Name     string `json:"name"`
	Checksum int64  `json:"checksum"`
}

type modelDiffsRequest struct {
	Models []modelSnapshotPayload `json:"models"`
}

type modelDiffPayload struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Checksum   int64  `json:"checksum"`
	Compatible bool   `json:"compatible"`
}

type modelDiffsResponse struct {
	Diffs []modelDiffPayload `json:"diffs"`
}

// --- Client implementation ---

// Transactions returns the next ordered batch of transactions.
func (c *HTTPClient) Transactions(ctx context.Context, sinceCommitTime, sinceID int64, maxResults int) ([]txn.Transaction, error) {
	params := url.Values{}
	params.Set("fromCommitTime", strconv.FormatInt(sinceCommitTime, 10))
	params.Set("minTxnId", strconv.FormatInt(sinceID, 10))
	params.Set("maxResults", strconv.Itoa(maxResults))

	var resp transactionsResponse
	if err := c.get(ctx, "/transactions", params, &resp); err != nil {
		return nil, err
	}

	txns := make([]txn.Transaction, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		txns = append(txns, txn.NewTransaction(t.ID, t.CommitTimeMs, t.Updates, t.Deletes))
	}
	return txns, nil
}

// AclChangeSets returns the next ordered batch of ACL change-sets.
func (c *HTTPClient) AclChangeSets(ctx context.Context, sinceCommitTime, sinceID int64, maxResults int) ([]txn.AclChangeSet, error) {
	params := url.Values{}
	params.Set("fromTime", strconv.FormatInt(sinceCommitTime, 10))
	params.Set("fromId", strconv.FormatInt(sinceID, 10))
	params.Set("maxResults", strconv.Itoa(maxResults))

	var resp changeSetsResponse
	if err := c.get(ctx, "/aclchangesets", params, &resp); err != nil {
		return nil, err
	}

	sets := make([]txn.AclChangeSet, 0, len(resp.AclChangeSets))
	for _, s := range resp.AclChangeSets {
		sets = append(sets, txn.NewAclChangeSet(s.ID, s.CommitTimeMs, s.AclCount))
	}
	return sets, nil
}

// Nodes returns the node references touched by the given transactions.
func (c *HTTPClient) Nodes(ctx context.Context, txnIDs []int64) ([]node.Node, error) {
	var resp nodesResponse
	if err := c.post(ctx, "/nodes", nodesRequest{TxnIDs: txnIDs}, &resp); err != nil {
		return nil, err
	}

	nodes := make([]node.Node, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		nodes = append(nodes, node.NewNode(n.ID, n.TxnID, n.AclID, node.ParseStatus(n.Status), n.Tenant))
	}
	return nodes, nil
}

// NodeMetadata fetches metadata for the selected nodes.
func (c *HTTPClient) NodeMetadata(ctx context.Context, req domainrepo.MetadataRequest) ([]node.Metadata, error) {
	wire := metadataRequest{
		NodeIDs:           req.NodeIDs,
		FromNodeID:        req.FromID,
		ToNodeID:          req.ToID,
		IncludeProperties: req.Options.Properties,
		IncludeAspects:    req.Options.Aspects,
		IncludePaths:      req.Options.Paths,
		IncludeAncestors:  req.Options.Ancestors,
		IncludeOwner:      req.Options.Owner,
	}

	var resp metadataResponse
	if err := c.post(ctx, "/metadata", wire, &resp); err != nil {
		return nil, err
	}

	out := make([]node.Metadata, 0, len(resp.Nodes))
	for _, m := range resp.Nodes {
		builder := node.NewMetadata(m.ID, m.TxnID, m.AclID, m.Tenant).
			Type(m.Type).
			Aspects(m.Aspects...).
			NodeRef(m.NodeRef).
			ParentRef(m.ParentRef).
			Path(m.Path).
			NamePaths(m.NamePaths).
			Ancestors(m.Ancestors...).
			ChildCount(m.ChildCount).
			Owner(m.Owner)
		if m.Properties != nil {
			props := make(map[string]node.PropertyValue, len(m.Properties))
			for name, p := range m.Properties {
				props[name] = toProperty(p)
			}
			builder = builder.Properties(props)
		}
		out = append(out, builder.Build())
	}
	return out, nil
}

// Acls returns the ACL ids committed in the given change-sets.
func (c *HTTPClient) Acls(ctx context.Context, changeSetIDs []int64) ([]int64, error) {
	var resp aclsResponse
	if err := c.post(ctx, "/acls", aclsRequest{ChangeSetIDs: changeSetIDs}, &resp); err != nil {
		return nil, err
	}
	return resp.AclIDs, nil
}

// AclReaders returns the authority lists for one ACL.
func (c *HTTPClient) AclReaders(ctx context.Context, aclID int64) (acl.Readers, error) {
	var resp readersResponse
	if err := c.post(ctx, "/aclsReaders", readersRequest{AclIDs: []int64{aclID}}, &resp); err != nil {
		return acl.Readers{}, err
	}
	if len(resp.AclsReaders) == 0 {
		return acl.Readers{}, fmt.Errorf("acl %d: no readers returned", aclID)
	}
	r := resp.AclsReaders[0]
	return acl.NewReaders(r.AclID, r.ChangeSetID, r.Readers, r.Denied), nil
}

// TextContent fetches the transformed text for one node property. The
// transform outcome travels in response headers alongside the body.
func (c *HTTPClient) TextContent(ctx context.Context, nodeID int64, property string) (domainrepo.TextContent, error) {
	params := url.Values{}
	params.Set("nodeId", strconv.FormatInt(nodeID, 10))
	params.Set("propertyName", property)

	var content domainrepo.TextContent
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/textContent?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domainrepo.ErrTransient, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if err := classifyStatus(resp.StatusCode); err != nil {
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read content: %v", domainrepo.ErrTransient, err)
		}

		durationMs, _ := strconv.ParseInt(resp.Header.Get(headerTransformDuration), 10, 64)
		version, _ := strconv.ParseInt(resp.Header.Get(headerContentVersion), 10, 64)
		content = domainrepo.NewTextContent(
			string(body),
			resp.Header.Get(headerTransformStatus),
			resp.Header.Get(headerTransformError),
			durationMs,
			version,
		)
		return nil
	})
	return content, err
}

// ModelDiffs compares the given model snapshots against the repository's
// current content models.
func (c *HTTPClient) ModelDiffs(ctx context.Context, known []domainrepo.ModelSnapshot) ([]domainrepo.ModelDiff, error) {
	wire := modelDiffsRequest{Models: make([]modelSnapshotPayload, 0, len(known))}
	for _, snap := range known {
		wire.Models = append(wire.Models, modelSnapshotPayload{Name: snap.Name, Checksum: snap.Checksum})
	}

	var resp modelDiffsResponse
	if err := c.post(ctx, "/modelsdiff", wire, &resp); err != nil {
		return nil, err
	}

	diffs := make([]domainrepo.ModelDiff, 0, len(resp.Diffs))
	for _, d := range resp.Diffs {
		diffs = append(diffs, domainrepo.NewModelDiff(d.Name, d.Type, d.Checksum, d.Compatible))
	}
	return diffs, nil
}

// --- transport plumbing ---

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return c.do(req, out)
	})
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.do(req, out)
	})
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domainrepo.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domainrepo.ErrTransient, err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", req.URL.Path, err)
	}
	return nil
}

// classifyStatus maps an HTTP status to nil, a transient error, or a
// permanent one.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: repository returned %d", domainrepo.ErrTransient, status)
	default:
		return fmt.Errorf("repository returned %d", status)
	}
}

// withRetry executes fn, retrying transient failures with exponential
// backoff. Permanent failures return immediately.
func (c *HTTPClient) withRetry(ctx context.Context, fn func() error) error {
	delay := c.initialDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !domainrepo.IsTransient(lastErr) {
			return lastErr
		}

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}

func toProperty(p propertyPayload) node.PropertyValue {
	switch {
	case len(p.Values) > 0:
		values := make([]node.PropertyValue, 0, len(p.Values))
		for _, v := range p.Values {
			values = append(values, toProperty(v))
		}
		return node.MultiProperty(values...)
	case p.ContentID != 0:
		return node.ContentProperty(p.ContentID, p.MimeType, p.Encoding, p.Size)
	case p.Locale != "":
		return node.LocalizedProperty(p.Locale, p.Value)
	default:
		return node.StringProperty(p.Value)
	}
}
