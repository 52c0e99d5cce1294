package chain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alephccn/types"
)

// HTTPDoer abstracts *http.Client, grounded on native/swap/oracle.go's
// HTTPDoer interface, so tests can swap in a fake transport without a real
// network call.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// decodeFunc turns one REST poll response body into the RawTx batch it
// contained plus the highest height observed (so the caller can advance
// its cursor even when that batch, after payload filtering, is empty).
type decodeFunc func(body []byte, contract string) (txs []types.RawTx, maxHeight uint64, err error)

// decodeBlockHashFunc turns a block-lookup response body into the
// canonical hash of that block/level.
type decodeBlockHashFunc func(body []byte) (hash string, err error)

// RESTPoller indexes a chain through a block-explorer-style JSON/REST API
// rather than a native RPC client, grounded on
// services/swapd/adapters/sources.go + native/swap/oracle.go's
// http.Request-per-poll adapter shape. Each concrete chain (NULS2, Tezos)
// supplies its own decodeFunc for its explorer's response shape, plus a
// decodeBlockHashFunc/blockHashPath pair for the per-height block lookup
// FetchSince uses to persist a reorg-detectable cursor.
type RESTPoller struct {
	chain             types.Chain
	client            HTTPDoer
	endpoint          string
	contract          string
	confirmationDepth uint64
	decode            decodeFunc
	decodeBlockHash   decodeBlockHashFunc
	blockHashPath     func(height uint64) string
}

func newRESTPoller(chain types.Chain, client HTTPDoer, endpoint, contract string, confirmationDepth uint64,
	decode decodeFunc, decodeBlockHash decodeBlockHashFunc, blockHashPath func(uint64) string) *RESTPoller {
	if client == nil {
		client = &http.Client{Timeout: defaultPollTimeout}
	}
	return &RESTPoller{
		chain: chain, client: client, endpoint: strings.TrimRight(endpoint, "/"), contract: contract,
		confirmationDepth: confirmationDepth, decode: decode, decodeBlockHash: decodeBlockHash, blockHashPath: blockHashPath,
	}
}

func (p *RESTPoller) Chain() types.Chain { return p.chain }

func (p *RESTPoller) ConfirmationDepth() uint64 { return p.confirmationDepth }

// FetchSince polls the explorer endpoint for transactions since lastHeight
// and, mirroring EVM's headHeight-confirmationDepth margin, only reports
// (and advances the cursor past) heights at or below
// maxHeight-confirmationDepth — the rest are left for a later poll once
// they have had time to become confirmed.
func (p *RESTPoller) FetchSince(ctx context.Context, lastHeight uint64) ([]types.RawTx, uint64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, lastHeight, "", fmt.Errorf("chain: build poll request: %w", err)
	}
	values := url.Values{}
	values.Set("address", p.contract)
	values.Set("since_height", fmt.Sprintf("%d", lastHeight))
	req.URL.RawQuery = values.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, lastHeight, "", fmt.Errorf("chain: poll %s: %w", p.chain, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, lastHeight, "", fmt.Errorf("chain: poll %s: status %d", p.chain, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, lastHeight, "", fmt.Errorf("chain: read %s response: %w", p.chain, err)
	}

	txs, maxHeight, err := p.decode(body, p.contract)
	if err != nil {
		return nil, lastHeight, "", fmt.Errorf("chain: decode %s response: %w", p.chain, err)
	}

	safeHeight := lastHeight
	if maxHeight > p.confirmationDepth {
		if safe := maxHeight - p.confirmationDepth; safe > safeHeight {
			safeHeight = safe
		}
	}
	if safeHeight <= lastHeight {
		return nil, lastHeight, "", nil
	}

	confirmed := make([]types.RawTx, 0, len(txs))
	for _, tx := range txs {
		if tx.Height <= safeHeight {
			confirmed = append(confirmed, tx)
		}
	}

	hash, err := p.BlockHash(ctx, safeHeight)
	if err != nil {
		return nil, lastHeight, "", fmt.Errorf("chain: fetch %s block hash at %d: %w", p.chain, safeHeight, err)
	}
	return confirmed, safeHeight, hash, nil
}

// BlockHash looks up the canonical hash of the block/level at height,
// letting Indexer detect a reorg that replaced a previously-scanned
// height. Returns ("", nil) for chains that supplied no block-hash lookup.
func (p *RESTPoller) BlockHash(ctx context.Context, height uint64) (string, error) {
	if p.decodeBlockHash == nil || p.blockHashPath == nil {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+p.blockHashPath(height), nil)
	if err != nil {
		return "", fmt.Errorf("chain: build block hash request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chain: fetch %s block %d: %w", p.chain, height, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chain: fetch %s block %d: status %d", p.chain, height, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("chain: read %s block %d response: %w", p.chain, height, err)
	}
	return p.decodeBlockHash(body)
}

// defaultPollTimeout is the timeout of the *http.Client newRESTPoller builds
// when the caller supplies a nil client.
const defaultPollTimeout = 15 * time.Second
