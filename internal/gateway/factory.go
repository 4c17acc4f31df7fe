package gateway

import (
	"fmt"

	"signal-trader/internal/order"
	"signal-trader/pkg/config"
	"signal-trader/pkg/exchanges/binance/usdm"
	exchange "signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/exchanges/okx"
)

// DefaultFactory creates a gateway from the account's exchange field.
func DefaultFactory(acct config.Account) (exchange.Gateway, error) {
	switch acct.Exchange {
	case config.ExchangeOKX:
		return okx.NewClient(okx.Config{
			APIKey:     acct.APIKey,
			SecretKey:  acct.SecretKey,
			Passphrase: acct.Passphrase,
			Flag:       acct.Flag,
		}), nil

	case config.ExchangeBinance:
		return usdm.NewClient(usdm.Config{
			APIKey:    acct.APIKey,
			APISecret: acct.SecretKey,
			Testnet:   acct.Paper(),
		}), nil

	case config.ExchangeDryRun:
		return order.NewDryRunGateway(order.DryRunConfig{}), nil

	default:
		return nil, fmt.Errorf("unsupported exchange: %s", acct.Exchange)
	}
}

// DryRunFactory simulates every account regardless of its exchange.
func DryRunFactory(cfg order.DryRunConfig) Factory {
	return func(acct config.Account) (exchange.Gateway, error) {
		return order.NewDryRunGateway(cfg), nil
	}
}
