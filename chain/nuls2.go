package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"alephccn/types"
)

// nuls2BlockResponse mirrors a NULS2 light-node/explorer block-by-height
// lookup.
type nuls2BlockResponse struct {
	Hash string `json:"hash"`
}

// nuls2Response mirrors the shape of a NULS2 light-node/explorer
// account-transactions query: a list of transfers with a hex-encoded
// remark/data field carrying the aleph payload.
type nuls2Response struct {
	List []struct {
		Hash   string `json:"hash"`
		Height uint64 `json:"height"`
		TxIdx  uint32 `json:"txIndex"`
		From   string `json:"from"`
		To     string `json:"to"`
		Remark string `json:"remark"` // hex-encoded payload JSON
	} `json:"list"`
}

// NewNULS2 builds a NULS2 indexer polling endpoint for transfers into
// contract, decoding each transfer's hex remark field as an aleph
// transaction payload. confirmationDepth blocks are withheld from the
// returned batch until a later poll, the same safety margin EVM applies.
func NewNULS2(client HTTPDoer, endpoint, contract string, confirmationDepth uint64) *RESTPoller {
	return newRESTPoller(types.ChainNULS2, client, endpoint, contract, confirmationDepth,
		decodeNULS2, decodeNULS2BlockHash, nuls2BlockHashPath)
}

func nuls2BlockHashPath(height uint64) string {
	return fmt.Sprintf("/api/block/%d", height)
}

func decodeNULS2BlockHash(body []byte) (string, error) {
	var resp nuls2BlockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode nuls2 block response: %w", err)
	}
	return resp.Hash, nil
}

func decodeNULS2(body []byte, contract string) ([]types.RawTx, uint64, error) {
	var resp nuls2Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode nuls2 response: %w", err)
	}
	var out []types.RawTx
	var maxHeight uint64
	for _, item := range resp.List {
		if maxHeight < item.Height {
			maxHeight = item.Height
		}
		if item.To != contract {
			continue
		}
		payload, err := hex.DecodeString(item.Remark)
		if err != nil {
			continue
		}
		protocol, err := classifyProtocol(payload)
		if err != nil {
			continue
		}
		out = append(out, types.RawTx{
			TxHash: item.Hash, Height: item.Height, TxIndex: item.TxIdx,
			Publisher: item.From, Protocol: protocol, Payload: payload,
		})
	}
	return out, maxHeight, nil
}
