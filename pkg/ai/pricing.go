package ai

// pricePer1K is the static USD price per 1000 tokens by model. Cost is
// always computed here; price fields reported by an upstream are ignored.
var pricePer1K = map[string]float64{
	"gpt-4o":        0.01,
	"gpt-4o-mini":   0.0006,
	"gpt-4":         0.03,
	"gpt-4-turbo":   0.01,
	"gpt-3.5-turbo": 0.0005,
}

// FreeTierModel is the model served by the fallback worker. Its price is
// zero by definition.
const FreeTierModel = "gpt-4o-mini"

const defaultPricePer1K = 0.0005

// Cost returns the USD cost of a request for the given model and total
// token count. Free-tier requests cost nothing regardless of model.
func Cost(model string, tokens int, freeTier bool) float64 {
	if freeTier {
		return 0
	}
	price, ok := pricePer1K[model]
	if !ok {
		price = defaultPricePer1K
	}
	return (float64(tokens) / 1000.0) * price
}
