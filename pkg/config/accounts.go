package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"signal-trader/pkg/crypto"
)

const maxEnvAccounts = 5

// Exchange venues an account can trade on.
const (
	ExchangeOKX     = "okx"
	ExchangeBinance = "binance"
	ExchangeDryRun  = "dryrun"
)

// Account is one exchange sub-account that receives every accepted signal.
type Account struct {
	Name       string
	Index      int
	Exchange   string
	APIKey     string
	SecretKey  string
	Passphrase string
	Flag       string // "0" live, "1" paper/demo
	Leverage   int
	MarginMode string
	FixedSize  map[string]decimal.Decimal
}

// Size returns the configured fixed order quantity for a symbol.
func (a Account) Size(symbol string) (decimal.Decimal, bool) {
	sz, ok := a.FixedSize[strings.ToUpper(symbol)]
	if !ok || !sz.IsPositive() {
		return decimal.Zero, false
	}
	return sz, true
}

// Paper reports whether orders go to the exchange's demo environment.
func (a Account) Paper() bool {
	return a.Flag != "0"
}

// accountFile mirrors accounts.yaml.
type accountFile struct {
	Accounts []struct {
		Name       string            `yaml:"name"`
		Exchange   string            `yaml:"exchange"`
		APIKey     string            `yaml:"api_key"`
		SecretKey  string            `yaml:"secret_key"`
		Passphrase string            `yaml:"passphrase"`
		Flag       string            `yaml:"flag"`
		Leverage   int               `yaml:"leverage"`
		MarginMode string            `yaml:"margin_mode"`
		FixedSize  map[string]string `yaml:"fixed_size"`
	} `yaml:"accounts"`
}

// LoadAccounts collects accounts from OKX{n}_* / BINANCE{n}_* env vars, then
// appends those from the optional YAML file. ENC[vN]: credentials are opened
// with the keyring from MASTER_ENCRYPTION_KEY*.
func LoadAccounts(path string) ([]Account, error) {
	kr, err := crypto.KeyringFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load keyring: %w", err)
	}

	accounts := envAccounts("OKX", ExchangeOKX)
	accounts = append(accounts, envAccounts("BINANCE", ExchangeBinance)...)

	if path != "" {
		fromFile, err := fileAccounts(path)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, fromFile...)
	}

	seen := make(map[string]bool, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate account name %q", a.Name)
		}
		seen[a.Name] = true
		for _, field := range []*string{&a.APIKey, &a.SecretKey, &a.Passphrase} {
			plain, err := kr.Reveal(*field)
			if err != nil {
				return nil, fmt.Errorf("account %s: reveal credential: %w", a.Name, err)
			}
			*field = plain
		}
	}

	log.Printf("config: %d account(s) loaded", len(accounts))
	return accounts, nil
}

func envAccounts(prefix, exchange string) []Account {
	var out []Account
	for idx := 1; idx <= maxEnvAccounts; idx++ {
		p := fmt.Sprintf("%s%d_", prefix, idx)
		key := os.Getenv(p + "API_KEY")
		secret := os.Getenv(p + "SECRET_KEY")
		passphrase := os.Getenv(p + "PASSPHRASE")
		if key == "" || secret == "" {
			continue
		}
		if exchange == ExchangeOKX && passphrase == "" {
			continue
		}
		out = append(out, Account{
			Name:       fmt.Sprintf("%s%d", prefix, idx),
			Index:      idx,
			Exchange:   exchange,
			APIKey:     key,
			SecretKey:  secret,
			Passphrase: passphrase,
			Flag:       getEnv(p+"FLAG", "1"),
			Leverage:   getEnvInt(p+"LEVERAGE", 10),
			MarginMode: getEnv(p+"MARGIN_MODE", "cross"),
			FixedSize:  fixedSizesFromEnv(p + "FIXED_QTY_"),
		})
	}
	return out
}

func fixedSizesFromEnv(prefix string) map[string]decimal.Decimal {
	sizes := make(map[string]decimal.Decimal)
	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		coin := strings.ToUpper(strings.TrimPrefix(name, prefix))
		sz, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			log.Printf("⚠️ config: ignoring %s=%q: %v", name, val, err)
			continue
		}
		sizes[coin] = sz
	}
	return sizes
}

func fileAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var file accountFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	out := make([]Account, 0, len(file.Accounts))
	for i, fa := range file.Accounts {
		a := Account{
			Name:       fa.Name,
			Index:      maxEnvAccounts + i + 1,
			Exchange:   strings.ToLower(fa.Exchange),
			APIKey:     fa.APIKey,
			SecretKey:  fa.SecretKey,
			Passphrase: fa.Passphrase,
			Flag:       fa.Flag,
			Leverage:   fa.Leverage,
			MarginMode: fa.MarginMode,
			FixedSize:  make(map[string]decimal.Decimal, len(fa.FixedSize)),
		}
		if a.Name == "" {
			a.Name = "ACCOUNT" + strconv.Itoa(a.Index)
		}
		if a.Exchange == "" {
			a.Exchange = ExchangeOKX
		}
		if a.Flag == "" {
			a.Flag = "1"
		}
		if a.Leverage <= 0 {
			a.Leverage = 10
		}
		if a.MarginMode == "" {
			a.MarginMode = "cross"
		}
		for coin, raw := range fa.FixedSize {
			sz, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("account %s: fixed_size[%s]: %w", a.Name, coin, err)
			}
			a.FixedSize[strings.ToUpper(coin)] = sz
		}
		out = append(out, a)
	}
	return out, nil
}
