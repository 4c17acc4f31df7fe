package signal

import (
	"github.com/shopspring/decimal"
)

// Extractor runs close rules, then open rules; the first match wins.
type Extractor struct {
	closeRules []Rule
	openRules  []Rule
}

// NewExtractor returns an extractor with the default rule order.
func NewExtractor() *Extractor {
	return &Extractor{closeRules: CloseRules(), openRules: OpenRules()}
}

// ExtractClose returns a close intent when any close rule matches. The symbol
// may be empty; such an intent must be logged, not executed.
func (e *Extractor) ExtractClose(text string) (Intent, bool) {
	return first(e.closeRules, text)
}

// ExtractOpen returns an open intent. It does not consult close rules;
// use Classify for precedence.
func (e *Extractor) ExtractOpen(text string) (Intent, bool) {
	return first(e.openRules, text)
}

// Classify applies close-before-open precedence and attaches any quoted
// signal price. Unrecognized text yields None.
func (e *Extractor) Classify(text string) Intent {
	intent, ok := e.ExtractClose(text)
	if !ok {
		intent, ok = e.ExtractOpen(text)
	}
	if !ok {
		return None
	}
	if price, found := SignalPrice(text); found {
		intent.SignalPrice = price
		intent.HasPrice = true
	}
	return intent
}

func first(rules []Rule, text string) (Intent, bool) {
	for _, r := range rules {
		if intent, ok := r.Match(text); ok {
			return intent, true
		}
	}
	return Intent{}, false
}

// SignalPrice parses "<SYM>价格:<price>" from the message.
func SignalPrice(text string) (decimal.Decimal, bool) {
	m := priceQuote.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(m[2])
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}
