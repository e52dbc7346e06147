package overlay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) covenant.PubKey {
	var secret [32]byte
	for i := range secret {
		secret[i] = seed
	}
	_, pub := btcec.PrivKeyFromBytes(secret[:])

	return covenant.NewPubKey(pub)
}

// testOutput returns an indexed bounty contract created by txid.
func testOutput(t *testing.T, txid chainhash.Hash, index uint32) *Output {
	t.Helper()

	c, value, err := covenant.NewContract(&covenant.Offer{
		SeekerKey:                   testKey(1),
		PlatformKey:                 testKey(2),
		ContractType:                covenant.ContractBounty,
		Bounty:                      5_000,
		EscrowServiceFeeBasisPoints: 100,
		ApprovalMode:                covenant.ApprovalSeeker,
		DelayUnit:                   covenant.DelayBlockHeight,
		WorkCompletionDeadline:      5_000,
		MaxWorkStartDelay:           10,
		MaxWorkApprovalDelay:        10,
		WorkDescription:             "translate the manual",
	})
	require.NoError(t, err)

	script, err := c.LockingScript()
	require.NoError(t, err)

	return &Output{
		TxID:          txid.String(),
		OutputIndex:   index,
		LockingScript: hex.EncodeToString(script),
		Satoshis:      int64(value),
	}
}

// testService serves outputs and records the last query it saw.
type testService struct {
	outputs []*Output
	status  int

	mu   sync.Mutex
	last lookupRequest
}

func (s *testService) lastRequest() lookupRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

func (s *testService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/lookup" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.last = req
	s.mu.Unlock()

	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}

	_ = json.NewEncoder(w).Encode(&lookupResponse{
		Type:    "output-list",
		Outputs: s.outputs,
	})
}

func newTestLookup(t *testing.T, svc *testService) *Lookup {
	t.Helper()

	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	return NewLookup(NewHTTPClient(srv.URL, "", 0))
}

func TestFindDecodesContracts(t *testing.T) {
	t.Parallel()

	txid := chainhash.Hash{1}
	svc := &testService{
		outputs: []*Output{testOutput(t, txid, 0)},
	}
	l := newTestLookup(t, svc)

	owner := testKey(1)
	found := l.FindOwned(context.Background(), owner)
	require.Len(t, found, 1)
	require.Equal(t, DefaultService, svc.lastRequest().Service)
	require.Equal(t, owner.String(), svc.lastRequest().Query.Owner)

	inst := found[0]
	require.Equal(t, wire.OutPoint{Hash: txid}, inst.OutPoint)
	require.EqualValues(t, 5_000, inst.Value)
	require.Equal(t, covenant.StatusInitial, inst.Contract.Status)
	require.Equal(t, "translate the manual", inst.Contract.WorkDescription)
}

func TestFindSkipsUndecodable(t *testing.T) {
	t.Parallel()

	txid := chainhash.Hash{2}
	svc := &testService{
		outputs: []*Output{
			{TxID: "zz", LockingScript: "00"},
			nil,
			{TxID: txid.String(), LockingScript: "not hex"},
			{TxID: txid.String(), LockingScript: "76a914"},
			testOutput(t, txid, 3),
		},
	}
	l := newTestLookup(t, svc)

	found := l.Find(
		context.Background(), ByStatus(covenant.StatusInitial),
	)
	require.Len(t, found, 1)
	require.EqualValues(t, 3, found[0].OutPoint.Index)
	require.Equal(t, "initial", svc.lastRequest().Query.Status)
}

// emptyClient answers every query with a single null output.
type emptyClient struct{}

func (emptyClient) Query(context.Context, *Query) ([]*Output, error) {
	return []*Output{nil}, nil
}

func TestFindSkipsNullOutputs(t *testing.T) {
	t.Parallel()

	// The service answers with a null entry in its output list.
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"outputs":[null]}`))
		},
	))
	t.Cleanup(srv.Close)

	l := NewLookup(NewHTTPClient(srv.URL, "", 0))
	require.NotPanics(t, func() {
		require.Empty(t, l.FindOwned(context.Background(), testKey(1)))
	})

	direct := NewLookup(emptyClient{})
	require.NotPanics(t, func() {
		require.Empty(
			t, direct.FindOwned(context.Background(), testKey(1)),
		)
		require.True(t, direct.FindOutPoint(
			context.Background(), wire.OutPoint{},
		).IsNone())
	})
}

func TestFindToleratesFailures(t *testing.T) {
	t.Parallel()

	svc := &testService{status: http.StatusInternalServerError}
	l := newTestLookup(t, svc)

	require.Empty(t, l.Find(context.Background(), ByTxID(chainhash.Hash{})))

	// A service that isn't listening at all behaves the same way.
	srv := httptest.NewServer(svc)
	srv.Close()
	offline := NewLookup(NewHTTPClient(srv.URL, "", 0))
	require.Empty(t, offline.FindOwned(context.Background(), testKey(1)))
}

func TestFindOutPoint(t *testing.T) {
	t.Parallel()

	txid := chainhash.Hash{3}
	svc := &testService{
		outputs: []*Output{
			testOutput(t, txid, 0),
			testOutput(t, txid, 1),
		},
	}
	l := newTestLookup(t, svc)

	found := l.FindOutPoint(
		context.Background(), wire.OutPoint{Hash: txid, Index: 1},
	)
	require.True(t, found.IsSome())
	require.Equal(t, txid.String(), svc.lastRequest().Query.TxID)

	missing := l.FindOutPoint(
		context.Background(), wire.OutPoint{Hash: txid, Index: 7},
	)
	require.True(t, missing.IsNone())
}
