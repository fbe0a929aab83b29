package embeddings

// PricePerMillionTokens is the static embedding price table in USD per one
// million input tokens. Kept as data so price updates never touch call sites.
var PricePerMillionTokens = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
	"text-embedding-ada-002": 0.10,
}

// EstimateCost computes the deterministic cost of an embedding call from its
// token count. Unknown models cost 0 rather than guessing a price.
func EstimateCost(model string, totalTokens int) float64 {
	price, ok := PricePerMillionTokens[model]
	if !ok {
		return 0
	}
	return float64(totalTokens) / 1_000_000 * price
}
