package storage

import "fmt"

// Key schema:
//
//	cd:<conditionID>            → risk.Cooldown (JSON)
//	dec:<unix nanos>:<id>       → trader.Decision (JSON)
const (
	prefixCooldown = "cd:"
	prefixDecision = "dec:"
)

// cooldownKey returns the key for a market's cooldown record.
// Format: "cd:{conditionID}"
func cooldownKey(conditionID string) []byte {
	return []byte(prefixCooldown + conditionID)
}

// decisionKey returns the journal key for a decision.
// Timestamp is zero-padded (20 digits) for lexicographic sorting.
func decisionKey(unixNano int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixDecision, unixNano, id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
