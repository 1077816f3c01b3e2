package heuristics

import (
	"strings"
)

// Known-entity name fragments.
//
// Counterparties are matched by case-insensitive substring against labelled
// address strings (e.g. "tornado-cash-router-0x..."), plus a prefix table of
// tagged Bitcoin exchange hot wallets. In production this would be a tagged
// address database; this is a representative set.

var knownMixerFragments = []string{
	"tornado",
	"mixer",
	"tumbler",
	"wasabi",
	"samourai",
	"whirlpool",
	"joinmarket",
	"chipmixer",
	"blender",
	"sinbad",
	"railgun",
	"cyclone",
	"helix",
	"bitmix",
	"privacy",
}

var knownExchangeFragments = []string{
	"binance",
	"coinbase",
	"kraken",
	"bitfinex",
	"bybit",
	"okx",
	"huobi",
	"kucoin",
	"gemini",
	"bitstamp",
	"exchange",
}

// Tagged exchange hot-wallet prefixes.
var knownExchangePrefixes = map[string]string{
	"bc1qm34lsc65zpw79lxes69zkqm": "Binance",
	"1NDyJtNTjmwk5xPNhjgAMu4HDH":  "Binance",
	"3JZq4atUahhuA9rLhXLMhhTo133": "Binance",
	"3Cbq7aT1tY8kMxWLbitaG7yT6bP": "Coinbase",
	"bc1qxy2kgdygjrsqtzq2n0yrf24": "Coinbase",
	"bc1qgdjqv0av3q56jvd82tk":     "Bitfinex",
	"3AfBdeS2QYHSM3PQ9bfXuUbJPMi": "Kraken",
}

// IsKnownMixer reports whether addr matches a mixing/privacy service fragment.
func IsKnownMixer(addr string) bool {
	if addr == "" {
		return false
	}
	lower := strings.ToLower(addr)
	for _, frag := range knownMixerFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// KnownExchange returns the exchange name when addr is a tagged exchange.
func KnownExchange(addr string) (string, bool) {
	if addr == "" {
		return "", false
	}
	for prefix, name := range knownExchangePrefixes {
		if strings.HasPrefix(addr, prefix) {
			return name, true
		}
	}
	lower := strings.ToLower(addr)
	for _, frag := range knownExchangeFragments {
		if strings.Contains(lower, frag) {
			return frag, true
		}
	}
	return "", false
}
