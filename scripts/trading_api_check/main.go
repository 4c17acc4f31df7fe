package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"signal-trader/internal/gateway"
	"signal-trader/pkg/config"
	exchange "signal-trader/pkg/exchanges/common"
)

// trading_api_check/main.go
//
// 小工具：逐個帳戶測試交易所 API 是否能正常打通（OKX / Binance USDⓈ-M）。
//
// 用法:
//
//   go run ./scripts/trading_api_check
//
// 帳戶設定與主程式一致: OKX{n}_* / BINANCE{n}_* 環境變數或 ACCOUNTS_FILE。
//
// 控制測試行為:
//   TRADING_CHECK_SYMBOL        (default "ETH")
//   TRADING_CHECK_SET_LEVERAGE  (default "false")
//        - true : 以帳戶設定的槓桿呼叫 SetLeverage
//   TRADING_CHECK_PLACE_ORDERS  (default "false")
//        - true : 以帳戶 FIXED_QTY 送出市價開多，再立即平倉
//
// 注意：下單測試會真的成交；建議只對 flag=1（模擬盤）帳戶開啟。

func main() {
	log.Println("=== Trading API check starting ===")
	_ = godotenv.Load()

	accounts, err := config.LoadAccounts(os.Getenv("ACCOUNTS_FILE"))
	if err != nil {
		log.Fatalf("load accounts error: %v", err)
	}
	if len(accounts) == 0 {
		log.Fatal("no accounts configured")
	}

	symbol := strings.ToUpper(getenv("TRADING_CHECK_SYMBOL", "ETH"))
	setLeverage := getenv("TRADING_CHECK_SET_LEVERAGE", "false") == "true"
	placeOrders := getenv("TRADING_CHECK_PLACE_ORDERS", "false") == "true"
	log.Printf("Config: symbol=%s setLeverage=%v placeOrders=%v accounts=%d", symbol, setLeverage, placeOrders, len(accounts))

	failed := 0
	for _, acct := range accounts {
		if !checkAccount(acct, symbol, setLeverage, placeOrders) {
			failed++
		}
	}

	log.Printf("=== Trading API check finished (%d/%d ok) ===", len(accounts)-failed, len(accounts))
	if failed > 0 {
		os.Exit(1)
	}
}

func checkAccount(acct config.Account, symbol string, setLeverage, placeOrders bool) bool {
	tag := "[" + acct.Name + "]"
	log.Printf("---- %s %s paper=%v ----", tag, acct.Exchange, acct.Paper())

	gw, err := gateway.DefaultFactory(acct)
	if err != nil {
		log.Printf("%s create gateway error: %v", tag, err)
		return false
	}
	ok := true

	if p, isPinger := gw.(exchange.Pinger); isPinger {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			log.Printf("%s Ping error: %v", tag, err)
			ok = false
		} else {
			log.Printf("%s Ping ok", tag)
		}
	}

	if ps, isSource := gw.(exchange.PriceSource); isSource {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		price, err := ps.LastPrice(ctx, symbol)
		cancel()
		if err != nil {
			log.Printf("%s LastPrice(%s) error: %v", tag, symbol, err)
			ok = false
		} else {
			log.Printf("%s LastPrice(%s)=%s", tag, symbol, price)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	positions, err := gw.GetPositions(ctx, symbol)
	cancel()
	if err != nil {
		log.Printf("%s GetPositions error: %v", tag, err)
		ok = false
	} else {
		log.Printf("%s positions=%d", tag, len(positions))
		for _, p := range positions {
			log.Printf("%s   %s %s size=%s entry=%s", tag, p.Symbol, p.PositionSide, p.Size, p.EntryPrice)
		}
	}

	if setLeverage {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := gw.SetLeverage(ctx, symbol, acct.Leverage, exchange.MarginMode(acct.MarginMode))
		cancel()
		if err != nil {
			log.Printf("%s SetLeverage x%d error: %v", tag, acct.Leverage, err)
			ok = false
		} else {
			log.Printf("%s SetLeverage x%d ok", tag, acct.Leverage)
		}
	}

	if placeOrders {
		if size, has := acct.Size(symbol); has {
			ok = roundTrip(gw, tag, symbol, size) && ok
		} else {
			log.Printf("%s no FIXED_QTY for %s, skipping order test", tag, symbol)
		}
	}
	logWeight(gw, tag)
	return ok
}

func logWeight(gw exchange.Gateway, tag string) {
	if w, has := gw.(interface {
		WeightUsage() (used, limit int, percentage float64)
	}); has {
		used, limit, pct := w.WeightUsage()
		log.Printf("%s request weight %d/%d (%.1f%%)", tag, used, limit, pct)
	}
}

// roundTrip opens a small long and closes it again.
func roundTrip(gw exchange.Gateway, tag, symbol string, size decimal.Decimal) bool {
	open := exchange.OrderRequest{
		Symbol:       symbol,
		Side:         exchange.SideBuy,
		PositionSide: exchange.PosLong,
		Type:         exchange.OrderTypeMarket,
		Size:         size,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	res, err := gw.PlaceOrder(ctx, open)
	cancel()
	if err != nil {
		log.Printf("%s open order error: %v", tag, err)
		return false
	}
	log.Printf("%s open order id=%s status=%s", tag, res.ExchangeOrderID, res.Status)

	time.Sleep(time.Second)

	closeReq := open
	closeReq.Side = open.Side.Opposite()
	closeReq.ReduceOnly = true
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	res, err = gw.PlaceOrder(ctx, closeReq)
	cancel()
	if err != nil {
		log.Printf("%s close order error: %v", tag, err)
		return false
	}
	log.Printf("%s close order id=%s status=%s", tag, res.ExchangeOrderID, res.Status)
	return true
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
