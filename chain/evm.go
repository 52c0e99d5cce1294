package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"alephccn/types"
)

// EVMClient is the ethclient.Client subset this indexer uses, narrowed the
// way oracle-attesterd/evm_confirm.go narrows its EVMClient interface so
// tests can supply a fake.
type EVMClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// DialEVMClient opens an RPC connection, grounded on
// oracle-attesterd.DialEVMClient.
func DialEVMClient(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// EVM indexes ETH/BNB (and any other EVM chain) by scanning each new block
// in [lastHeight+1, head-confirmationDepth] for transactions addressed to
// Contract.
type EVM struct {
	chain             types.Chain
	client            EVMClient
	contract          common.Address
	confirmationDepth uint64
	window            uint64 // max blocks scanned per FetchSince call

	signer gethtypes.Signer
}

// NewEVM constructs an EVM indexer. The chain ID used for sender recovery is
// fetched from the client on the first FetchSince call.
func NewEVM(chain types.Chain, client EVMClient, contract common.Address, confirmationDepth, window uint64) *EVM {
	return &EVM{chain: chain, client: client, contract: contract, confirmationDepth: confirmationDepth, window: window}
}

func (e *EVM) Chain() types.Chain { return e.chain }

func (e *EVM) ConfirmationDepth() uint64 { return e.confirmationDepth }

// BlockHash returns the block hash at height, letting Indexer detect when
// a previously-recorded cursor height has been reorged away.
func (e *EVM) BlockHash(ctx context.Context, height uint64) (string, error) {
	header, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return "", fmt.Errorf("chain: fetch header %d: %w", height, err)
	}
	if header == nil {
		return "", nil
	}
	return header.Hash().Hex(), nil
}

func (e *EVM) ensureSigner(ctx context.Context) (gethtypes.Signer, error) {
	if e.signer != nil {
		return e.signer, nil
	}
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch chain id: %w", err)
	}
	e.signer = gethtypes.LatestSignerForChainID(chainID)
	return e.signer, nil
}

func (e *EVM) FetchSince(ctx context.Context, lastHeight uint64) ([]types.RawTx, uint64, string, error) {
	signer, err := e.ensureSigner(ctx)
	if err != nil {
		return nil, lastHeight, "", err
	}
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, lastHeight, "", fmt.Errorf("chain: fetch head: %w", err)
	}
	if head == nil || head.Number == nil {
		return nil, lastHeight, "", fmt.Errorf("chain: head unavailable")
	}
	headHeight := head.Number.Uint64()
	if headHeight < e.confirmationDepth {
		return nil, lastHeight, "", nil // chain too young, nothing confirmed yet
	}
	safeHeight := headHeight - e.confirmationDepth
	if safeHeight <= lastHeight {
		return nil, lastHeight, "", nil
	}
	end := safeHeight
	if e.window > 0 && end-lastHeight > e.window {
		end = lastHeight + e.window
	}

	var out []types.RawTx
	var endHash string
	for h := lastHeight + 1; h <= end; h++ {
		block, err := e.client.BlockByNumber(ctx, new(big.Int).SetUint64(h))
		if err != nil {
			return out, h - 1, "", fmt.Errorf("chain: fetch block %d: %w", h, err)
		}
		if h == end {
			endHash = block.Hash().Hex()
		}
		for idx, tx := range block.Transactions() {
			to := tx.To()
			if to == nil || *to != e.contract {
				continue
			}
			sender, err := gethtypes.Sender(signer, tx)
			if err != nil {
				continue // unparseable signature, skip rather than abort the whole window
			}
			payload := tx.Data()
			protocol, err := classifyProtocol(payload)
			if err != nil {
				continue // not an aleph-shaped payload, ignore
			}
			out = append(out, types.RawTx{
				TxHash:    tx.Hash().Hex(),
				Height:    h,
				TxIndex:   uint32(idx),
				Publisher: sender.Hex(),
				Protocol:  protocol,
				Payload:   payload,
			})
		}
	}
	return out, end, endHash, nil
}
