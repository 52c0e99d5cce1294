package chain

import (
	"encoding/json"
	"fmt"

	"alephccn/types"
)

// classifyProtocol reads just the top-level "protocol" discriminator out of
// a chain transaction payload (spec.md §6) so the indexer can tag each
// types.RawTx without fully decoding its content — PTP (§4.2) does that.
func classifyProtocol(raw []byte) (types.Protocol, error) {
	var head struct {
		Protocol string `json:"protocol"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("chain: decode payload protocol: %w", err)
	}
	switch head.Protocol {
	case "aleph":
		return types.ProtocolBatchInline, nil
	case "aleph-offchain":
		return types.ProtocolBatchRef, nil
	default:
		return "", fmt.Errorf("chain: unknown protocol %q", head.Protocol)
	}
}
