package llm

// ModelPrice holds USD prices per one million tokens, split by direction.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Prices is the static chat model price table. Kept as data so price updates
// never touch call sites.
var Prices = map[string]ModelPrice{
	"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4.1":     {InputPerMillion: 2.00, OutputPerMillion: 8.00},
}

// EstimateCost computes the deterministic cost of a chat call from its token
// counts. Unknown models cost 0 rather than guessing a price.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	price, ok := Prices[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*price.InputPerMillion +
		float64(completionTokens)/1_000_000*price.OutputPerMillion
}
