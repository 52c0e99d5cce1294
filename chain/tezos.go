package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"alephccn/types"
)

// tezosBlockResponse mirrors a TzKT-style block-by-level lookup.
type tezosBlockResponse struct {
	Hash string `json:"hash"`
}

// tezosOperation mirrors a TzKT-style transactions-to-target query: each
// entry is one transaction operation whose parameter bytes carry the
// aleph payload.
type tezosOperation struct {
	Hash   string `json:"hash"`
	Level  uint64 `json:"level"`
	Sender struct {
		Address string `json:"address"`
	} `json:"sender"`
	Parameter struct {
		Bytes string `json:"bytes"` // hex-encoded payload JSON
	} `json:"parameter"`
}

// NewTezos builds a Tezos indexer polling endpoint for transactions into
// contract (a KT1... originated contract address). confirmationDepth
// levels are withheld from the returned batch until a later poll, the
// same safety margin EVM applies.
func NewTezos(client HTTPDoer, endpoint, contract string, confirmationDepth uint64) *RESTPoller {
	return newRESTPoller(types.ChainTezos, client, endpoint, contract, confirmationDepth,
		decodeTezos, decodeTezosBlockHash, tezosBlockHashPath)
}

func tezosBlockHashPath(height uint64) string {
	return fmt.Sprintf("/v1/blocks/%d", height)
}

func decodeTezosBlockHash(body []byte) (string, error) {
	var resp tezosBlockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode tezos block response: %w", err)
	}
	return resp.Hash, nil
}

func decodeTezos(body []byte, _ string) ([]types.RawTx, uint64, error) {
	var ops []tezosOperation
	if err := json.Unmarshal(body, &ops); err != nil {
		return nil, 0, fmt.Errorf("decode tezos response: %w", err)
	}
	var out []types.RawTx
	var maxHeight uint64
	for i, op := range ops {
		if maxHeight < op.Level {
			maxHeight = op.Level
		}
		payload, err := hex.DecodeString(op.Parameter.Bytes)
		if err != nil {
			continue
		}
		protocol, err := classifyProtocol(payload)
		if err != nil {
			continue
		}
		out = append(out, types.RawTx{
			TxHash: op.Hash, Height: op.Level, TxIndex: uint32(i),
			Publisher: op.Sender.Address, Protocol: protocol, Payload: payload,
		})
	}
	return out, maxHeight, nil
}
