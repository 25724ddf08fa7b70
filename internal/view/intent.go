package view

import "strings"

// intentKeywords maps lower-case keywords to tickers. Matching is a plain
// substring search, so this is a hint and nothing more.
var intentKeywords = map[string]string{
	"aapl":      "AAPL",
	"apple":     "AAPL",
	"tsla":      "TSLA",
	"tesla":     "TSLA",
	"nvda":      "NVDA",
	"nvidia":    "NVDA",
	"msft":      "MSFT",
	"microsoft": "MSFT",
	"amzn":      "AMZN",
	"amazon":    "AMZN",
	"googl":     "GOOGL",
	"google":    "GOOGL",
	"alphabet":  "GOOGL",
	"meta":      "META",
	"facebook":  "META",
	"spy":       "SPY",
	"s&p 500":   "SPY",
	"qqq":       "QQQ",
	"nasdaq":    "QQQ",
	"bitcoin":   "BTC",
	"btc":       "BTC",
	"ethereum":  "ETH",
}

// Scan looks for a well-known ticker or company name in text. The match that
// starts earliest wins; on a tie the longer keyword wins.
func Scan(text string) (string, bool) {
	lower := strings.ToLower(text)
	best, bestAt, bestLen := "", -1, 0
	for kw, ticker := range intentKeywords {
		at := strings.Index(lower, kw)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(kw) > bestLen) {
			best, bestAt, bestLen = ticker, at, len(kw)
		}
	}
	return best, bestAt >= 0
}

// Scanner applies Scan to a Store. It only ever sets the symbol.
type Scanner struct {
	store *Store
}

// NewScanner creates a Scanner writing to store.
func NewScanner(store *Store) *Scanner {
	return &Scanner{store: store}
}

// Apply scans userText and selects the matched symbol, if any.
func (s *Scanner) Apply(userText string) (State, bool) {
	sym, ok := Scan(userText)
	if !ok {
		return s.store.Snapshot(), false
	}
	return s.store.update(func(st State) (State, bool) {
		if st.ActiveSymbol == sym {
			return st, false
		}
		st.ActiveSymbol = sym
		return st, true
	})
}
