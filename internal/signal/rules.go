package signal

import (
	"regexp"
	"strings"
)

// Rule inspects message text and returns an intent when it recognizes one.
type Rule interface {
	Name() string
	Match(text string) (Intent, bool)
}

var (
	templateAction = regexp.MustCompile(`执行交易[:：]?(.+?) \d+\.\d+\w+`)
	templateSymbol = regexp.MustCompile(`策略当前交易对[:：]?(\w+USDT\.P)`)
	upperRun       = regexp.MustCompile(`[A-Z]+`)
	priceQuote     = regexp.MustCompile(`([A-Z]+)价格[:：]([0-9]+\.?[0-9]*)`)
)

// reservedWords never name an instrument.
var reservedWords = map[string]bool{
	"TP": true, "SL": true, "USDT": true, "LONG": true, "SHORT": true, "CLOSE": true,
}

// NormalizeSymbol uppercases and strips quote/contract suffixes: "ethusdt.p" -> "ETH".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".P")
	s = strings.TrimSuffix(s, "USDT")
	return s
}

// keywordCloseRule matches a fixed close vocabulary for one side.
type keywordCloseRule struct {
	name      string
	direction Direction
	keywords  []string
}

func (r keywordCloseRule) Name() string { return r.name }

func (r keywordCloseRule) Match(text string) (Intent, bool) {
	for _, kw := range r.keywords {
		if strings.Contains(text, kw) {
			return Intent{Kind: KindClose, Direction: r.direction, Symbol: closeSymbol(text), Rule: r.name}, true
		}
	}
	return Intent{}, false
}

// closeSymbol prefers the strategy instrument line, then the first capital
// run that is not a reserved word.
func closeSymbol(text string) string {
	if m := templateSymbol.FindStringSubmatch(text); m != nil {
		return NormalizeSymbol(m[1])
	}
	for _, run := range upperRun.FindAllString(text, -1) {
		if reservedWords[run] {
			continue
		}
		if sym := NormalizeSymbol(run); sym != "" {
			return sym
		}
	}
	return ""
}

// patternRule is a single regexp whose first group captures the symbol.
type patternRule struct {
	name      string
	kind      Kind
	direction Direction
	re        *regexp.Regexp
}

func (r patternRule) Name() string { return r.name }

func (r patternRule) Match(text string) (Intent, bool) {
	m := r.re.FindStringSubmatch(text)
	if m == nil {
		return Intent{}, false
	}
	sym := NormalizeSymbol(m[1])
	if sym == "" || reservedWords[sym] {
		return Intent{}, false
	}
	return Intent{Kind: r.kind, Direction: r.direction, Symbol: sym, Rule: r.name}, true
}

// templateRule matches the strategy bot's fixed report layout:
// "策略当前交易对:ETHUSDT.P ... 执行交易:做多 0.072ETH".
type templateRule struct{}

func (templateRule) Name() string { return "template" }

func (templateRule) Match(text string) (Intent, bool) {
	action := templateAction.FindStringSubmatch(text)
	symbol := templateSymbol.FindStringSubmatch(text)
	if action == nil || symbol == nil {
		return Intent{}, false
	}
	return Intent{
		Kind:      KindOpen,
		Direction: actionDirection(action[1]),
		Symbol:    NormalizeSymbol(symbol[1]),
		Rule:      "template",
	}, true
}

func actionDirection(action string) Direction {
	upper := strings.ToUpper(action)
	if strings.Contains(action, "做多") || strings.Contains(action, "买入") ||
		strings.Contains(upper, "LONG") || strings.Contains(upper, "BUY") {
		return Long
	}
	return Short
}

// CloseRules are tried in order before any open rule.
func CloseRules() []Rule {
	return []Rule{
		keywordCloseRule{name: "close_short", direction: Short, keywords: []string{"空止盈", "空止损", "平空"}},
		keywordCloseRule{name: "close_long", direction: Long, keywords: []string{"多止盈", "多止损", "平多"}},
		closeBoth("close_both_prefix_cn", `平仓\s*([A-Z]+)`),
		closeBoth("close_both_suffix_cn", `([A-Z]+)\s*平仓`),
		closeBoth("close_both_prefix_en", `CLOSE\s+([A-Z]+)`),
		closeBoth("close_both_suffix_en", `([A-Z]+)\s+CLOSE`),
	}
}

func closeBoth(name, expr string) Rule {
	return patternRule{name: name, kind: KindClose, direction: Both, re: regexp.MustCompile(expr)}
}

// OpenRules are tried in order: the template, then the loose long list,
// then the loose short list. Loose patterns ignore case.
func OpenRules() []Rule {
	rules := []Rule{templateRule{}}
	rules = append(rules, loose("long", Long, "做多", "买入", "LONG")...)
	rules = append(rules, loose("short", Short, "做空", "卖出", "SHORT")...)
	return rules
}

func loose(prefix string, dir Direction, verb, buyVerb, enVerb string) []Rule {
	specs := []struct {
		suffix string
		expr   string
	}{
		{"verb_sym", verb + `\s*([A-Z]+)`},
		{"sym_verb", `([A-Z]+)\s*` + verb},
		{"buy_sym", buyVerb + `\s*([A-Z]+)`},
		{"sym_buy", `([A-Z]+)\s*` + buyVerb},
		{"en_sym", enVerb + `\s*([A-Z]+)`},
		{"sym_en", `([A-Z]+)\s*` + enVerb},
		{"verb_qty_sym", verb + `\s*\d+\.?\d*([A-Z]+)`},
		{"sym_verb_qty", `([A-Z]+)\s*` + verb + `\s*\d+\.?\d*`},
		{"buy_qty_sym", buyVerb + `\s*\d+\.?\d*([A-Z]+)`},
		{"sym_buy_qty", `([A-Z]+)\s*` + buyVerb + `\s*\d+\.?\d*`},
	}
	out := make([]Rule, 0, len(specs))
	for _, s := range specs {
		out = append(out, patternRule{
			name:      prefix + "_" + s.suffix,
			kind:      KindOpen,
			direction: dir,
			re:        regexp.MustCompile(`(?i)` + s.expr),
		})
	}
	return out
}
