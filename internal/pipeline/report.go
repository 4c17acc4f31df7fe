package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"signal-trader/internal/events"
	"signal-trader/internal/notify"
	"signal-trader/internal/order"
	"signal-trader/internal/persistence"
	"signal-trader/internal/signal"
	"signal-trader/internal/transport"
)

// Shanghai is UTC+8 with no daylight saving.
var Shanghai = time.FixedZone("CST", 8*3600)

const timeLayout = "2006-01-02 15:04:05"

// Sender posts text to a chat, normally the transport.
type Sender interface {
	Send(ctx context.Context, channel int64, text string) error
}

// Reporter turns outcomes into operator notifications, log-group echoes,
// audit rows, and bus events.
type Reporter struct {
	Notifier   notify.Notifier
	Sender     Sender
	LogGroupID int64
	Audit      *persistence.BatchWriter
	Bus        *events.Bus
	Instance   string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Reporter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// RecordSignal writes the audit row for a classified message and returns its id.
func (r *Reporter) RecordSignal(msg transport.InboundMessage, intent signal.Intent) string {
	rec := persistence.SignalRecord(msg.ChannelID, msg.MessageID, msg.Source, msg.Text, intent)
	if r.Audit != nil {
		r.Audit.WriteSignal(rec)
	}
	return rec.ID
}

// Report delivers one notification per outcome.
func (r *Reporter) Report(ctx context.Context, msg transport.InboundMessage, intent signal.Intent, signalID string, outcomes []order.Outcome) {
	if len(outcomes) == 0 {
		log.Printf("pipeline: %s produced no outcomes (no account configured for %s)", intent, intent.Symbol)
		return
	}
	header := LogHeader(msg)

	for _, o := range outcomes {
		var title, body, judgement string
		if intent.Kind == signal.KindClose {
			title = CloseTitle(intent)
			body = r.CloseBody(intent, o)
			judgement = fmt.Sprintf("平仓 %s %s", intent.Direction, intent.Symbol)
		} else {
			title = OpenTitle(intent)
			body = r.OpenBody(intent, o)
			judgement = fmt.Sprintf("%s %s", intent.Direction.Label(), intent.Symbol)
		}

		raw, _ := json.MarshalIndent(o, "", "  ")
		full := fmt.Sprintf("%s\n信号判断: %s (账户: %s)\n操作返回: %s", header, judgement, o.Account, raw)
		log.Println(full)

		r.echo(ctx, full)
		if r.Notifier != nil {
			r.Notifier.Notify(ctx, title, body)
		}
		if r.Audit != nil {
			r.Audit.WriteOutcome(persistence.OutcomeRecord(signalID, o))
		}
		if r.Bus != nil {
			r.Bus.Publish(events.EventOrderOutcome, events.OrderOutcome{
				Account:   o.Account,
				Kind:      string(intent.Kind),
				Direction: string(intent.Direction),
				Symbol:    intent.Symbol,
				Success:   o.Success,
				OrderID:   o.OrderID,
				Error:     o.Error,
				MessageID: msg.MessageID,
				Source:    msg.Source,
				At:        o.At,
			})
		}
	}
}

// ReportSkip notifies that a replayed signal was dropped by the price check.
func (r *Reporter) ReportSkip(ctx context.Context, intent signal.Intent, detail string) {
	title := fmt.Sprintf("补单价格检查-%s-%s", intent.Direction.Label(), intent.Symbol)
	r.echo(ctx, detail)
	if r.Notifier != nil {
		r.Notifier.Notify(ctx, title, detail)
	}
}

// Announce sends a free-form operator message, e.g. a restart notice.
func (r *Reporter) Announce(ctx context.Context, title, body string) {
	if r.Instance != "" {
		body += "\n实例: " + r.Instance
	}
	r.echo(ctx, title+"\n"+body)
	if r.Notifier != nil {
		r.Notifier.Notify(ctx, title, body)
	}
}

func (r *Reporter) echo(ctx context.Context, text string) {
	if r.Sender == nil || r.LogGroupID == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.Sender.Send(cctx, r.LogGroupID, text); err != nil {
		log.Printf("⚠️ pipeline: log group echo failed: %v", err)
	}
}

// LogHeader marks replayed messages so operators can tell them apart.
func LogHeader(msg transport.InboundMessage) string {
	if msg.Source == transport.SourceScan || strings.Contains(msg.Text, "补单") {
		return "【补单】\n原始信息: " + msg.Text
	}
	return "【实时信号】\n原始信息: " + msg.Text
}

func OpenTitle(intent signal.Intent) string {
	return fmt.Sprintf("Tg信号策略%s-%s", intent.Direction.Label(), intent.Symbol)
}

func CloseTitle(intent signal.Intent) string {
	return fmt.Sprintf("Tg信号策略平仓-%s", intent.Symbol)
}

// OpenBody renders an open outcome.
func (r *Reporter) OpenBody(intent signal.Intent, o order.Outcome) string {
	lines := []string{
		"账户: " + o.Account,
		"交易标的: " + intent.Symbol,
		"信号类型: " + intent.Direction.Label(),
		"入场价格: " + o.MarketPrice.StringFixed(4),
		"委托数量: " + o.Size.StringFixed(4),
		"保证金: " + o.Margin.String() + " USDT",
		"止盈价格: " + o.TakeProfit.StringFixed(4),
		"止损价格: " + o.StopLoss.StringFixed(4),
		"客户订单ID: " + o.ClientOrderID,
		"时间: " + r.now().In(Shanghai).Format(timeLayout),
	}
	if !o.Success {
		lines = append(lines, "⚠️ 下单失败 ⚠️", "错误: "+o.Error)
	}
	if o.Code != "" || o.Msg != "" {
		lines = append(lines, "服务器响应代码: "+o.Code, "服务器响应消息: "+o.Msg)
	}
	return strings.Join(lines, "\n")
}

// CloseBody renders a close outcome with one line per flattened leg.
func (r *Reporter) CloseBody(intent signal.Intent, o order.Outcome) string {
	lines := []string{
		"账户: " + o.Account,
		"交易标的: " + intent.Symbol,
		"信号类型: 平仓" + string(intent.Direction),
		fmt.Sprintf("平仓结果: %d 个持仓", len(o.Closes)),
		"时间: " + r.now().In(Shanghai).Format(timeLayout),
	}
	for _, c := range o.Closes {
		line := fmt.Sprintf("- %s: %s (订单ID: %s)", c.PositionSide, c.Size, c.OrderID)
		if c.Error != "" {
			line += " 失败: " + c.Error
		}
		lines = append(lines, line)
	}
	if !o.Success {
		lines = append(lines, "⚠️ 平仓失败 ⚠️", "错误: "+o.Error)
	}
	if o.Code != "" || o.Msg != "" {
		lines = append(lines, "服务器响应代码: "+o.Code, "服务器响应消息: "+o.Msg)
	}
	return strings.Join(lines, "\n")
}
