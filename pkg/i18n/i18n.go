package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting         string
	ConfigLoaded     string
	ConfigLoadFailed string
	InstanceID       string
	ServerListening  string
	APIServerError   string
	ShuttingDown     string
	Stopped          string

	// Pipeline
	DryRunMode       string
	ChannelsWatched  string
	AccountsLoaded   string
	NoAccounts       string
	AccountSummary   string
	EngineInitFailed string
	EngineRunFailed  string
	NotAuthorized    string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:         "Starting signal trader...",
	ConfigLoaded:     "Config loaded (Port: %s, ledger: %s)",
	ConfigLoadFailed: "Failed to load config: %v",
	InstanceID:       "Instance: %s",
	ServerListening:  "API server listening on :%s",
	APIServerError:   "API server error: %v",
	ShuttingDown:     "Shutting down gracefully...",
	Stopped:          "Stopped.",

	// Pipeline
	DryRunMode:       "Running in DRY-RUN mode (orders will NOT hit exchange)",
	ChannelsWatched:  "Watching %d channel(s): %v",
	AccountsLoaded:   "%d trading account(s) loaded",
	NoAccounts:       "No trading accounts configured; signals will be recorded but not executed",
	AccountSummary:   "  - %s (%s, leverage x%d, paper=%v)",
	EngineInitFailed: "Failed to init engine: %v",
	EngineRunFailed:  "Engine stopped with error: %v",
	NotAuthorized:    "Telegram session is not authorized; run scripts/tg_login first",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:         "信号交易系统启动中...",
	ConfigLoaded:     "配置已加载 (端口: %s, 账本: %s)",
	ConfigLoadFailed: "加载配置失败: %v",
	InstanceID:       "实例: %s",
	ServerListening:  "API 服务监听于 :%s",
	APIServerError:   "API 服务错误: %v",
	ShuttingDown:     "正在优雅关闭...",
	Stopped:          "已停止。",

	// Pipeline
	DryRunMode:       "模拟模式运行 (订单不会发送到交易所)",
	ChannelsWatched:  "监听 %d 个频道: %v",
	AccountsLoaded:   "已加载 %d 个交易账户",
	NoAccounts:       "未配置交易账户；信号只记录不执行",
	AccountSummary:   "  - %s (%s, 杠杆 x%d, 模拟盘=%v)",
	EngineInitFailed: "引擎初始化失败: %v",
	EngineRunFailed:  "引擎异常退出: %v",
	NotAuthorized:    "Telegram 会话未授权；请先运行 scripts/tg_login",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
