package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Key schema:
//
//   trade:<symbol>:<seq> → Trade (JSON)
//
// The sequence is zero-padded to 20 digits so keys sort chronologically
// and a reverse scan yields newest first.

const prefixTrade = "trade:"

func tradeKey(symbol string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, symbol, seq))
}

func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

func parseTradeKey(key []byte) (symbol string, seq uint64, err error) {
	rest, ok := strings.CutPrefix(string(key), prefixTrade)
	if !ok {
		return "", 0, fmt.Errorf("not a trade key: %q", key)
	}
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed trade key: %q", key)
	}
	seq, err = strconv.ParseUint(rest[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed trade key %q: %w", key, err)
	}
	return rest[:i], seq, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
