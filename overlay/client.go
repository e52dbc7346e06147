package overlay

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultService is the lookup service indexing escrow contracts.
	DefaultService = "ls_escrow"

	// DefaultTimeout bounds a single query.
	DefaultTimeout = 10 * time.Second

	// maxResponseSize bounds the body read from the service.
	maxResponseSize = 16 << 20
)

// Query selects indexed contracts by exactly one attribute.
type Query struct {
	// Owner matches contracts where the key is the seeker, the
	// platform, the accepted furnisher or a bidder.
	Owner string `json:"owner,omitempty"`

	// Status matches contracts in a lifecycle state.
	Status string `json:"status,omitempty"`

	// TxID matches contracts created by a transaction.
	TxID string `json:"txid,omitempty"`
}

// ByOwner returns a query for contracts involving key.
func ByOwner(key covenant.PubKey) *Query {
	return &Query{Owner: key.String()}
}

// ByStatus returns a query for contracts in status s.
func ByStatus(s covenant.Status) *Query {
	return &Query{Status: s.String()}
}

// ByTxID returns a query for contracts created by txid.
func ByTxID(txid chainhash.Hash) *Query {
	return &Query{TxID: txid.String()}
}

// Output is one indexed output as returned by the service.
type Output struct {
	TxID          string `json:"txid"`
	OutputIndex   uint32 `json:"outputIndex"`
	LockingScript string `json:"lockingScript"`
	Satoshis      int64  `json:"satoshis"`
}

// Client queries the overlay lookup service.
type Client interface {
	// Query returns the indexed outputs matching q.
	Query(ctx context.Context, q *Query) ([]*Output, error)
}

// lookupRequest is the body posted to the service.
type lookupRequest struct {
	Service string `json:"service"`
	Query   *Query `json:"query"`
}

// lookupResponse is the body the service answers with.
type lookupResponse struct {
	Type    string    `json:"type"`
	Outputs []*Output `json:"outputs"`
}

// HTTPClient is a Client talking JSON over HTTP.
type HTTPClient struct {
	url     string
	service string
	http    *http.Client
}

// A compile-time check to ensure HTTPClient implements the Client
// interface.
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at url.
func NewHTTPClient(url, service string, timeout time.Duration) *HTTPClient {
	if service == "" {
		service = DefaultService
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &HTTPClient{
		url:     url,
		service: service,
		http:    &http.Client{Timeout: timeout},
	}
}

// Query posts q to the service's lookup endpoint.
func (c *HTTPClient) Query(ctx context.Context, q *Query) ([]*Output,
	error) {

	body, err := json.Marshal(&lookupRequest{
		Service: c.service,
		Query:   q,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.url+"/lookup", bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup failed: %s", resp.Status)
	}

	var answer lookupResponse
	err = json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).
		Decode(&answer)
	if err != nil {
		return nil, fmt.Errorf("unable to decode lookup answer: %w",
			err)
	}

	return answer.Outputs, nil
}

// decode turns an indexed output into a contract instance.
func (o *Output) decode() (*covenant.Instance, error) {
	hash, err := chainhash.NewHashFromStr(o.TxID)
	if err != nil {
		return nil, err
	}

	script, err := hex.DecodeString(o.LockingScript)
	if err != nil {
		return nil, err
	}

	op := wire.OutPoint{Hash: *hash, Index: o.OutputIndex}

	return covenant.NewInstance(op, wire.NewTxOut(o.Satoshis, script))
}
