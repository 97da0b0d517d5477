package node

import (
	"encoding/json"
	"fmt"

	"pagecap-go/domain/capture"
)

// Params resolves the capture parameters of one item: node defaults, then the
// preset, then the fields of the item JSON.
func (n *Node) Params(item Item) (capture.Params, error) {
	var raw []byte
	if len(item.JSON) > 0 {
		b, err := json.Marshal(item.JSON)
		if err != nil {
			return n.defaults, fmt.Errorf("encode item: %w", err)
		}
		raw = b
	}
	return n.executor.ResolveParams(n.defaults, raw)
}
