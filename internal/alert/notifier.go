package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
)

// Notifier delivers operator alerts. Delivery is best-effort; a failed send
// never blocks the director loop.
type Notifier interface {
	Notify(subject, body string) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(subject, body string) error {
	logs.Errorf("ALERT %s: %s", subject, body)
	return nil
}

// TelegramNotifier pushes alerts to a single operator chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authorizes the bot and binds it to the operator chat.
func NewTelegram(token string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	logs.Infof("telegram notifier authorized: @%s", api.Self.UserName)
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

// Notify implements Notifier.
func (n *TelegramNotifier) Notify(subject, body string) error {
	msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("%s\n%s", subject, body))
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Bind subscribes the notifier to halt and breach topics. Deliveries are
// deferred so a slow transport never stalls a publishing stage.
func Bind(b *bus.Bus, notifier Notifier) {
	handler := func(env bus.Envelope) error {
		subject, body, ok := render(env)
		if !ok {
			return nil
		}
		if err := notifier.Notify(subject, body); err != nil {
			logs.Errorf("alert delivery: %v", err)
		}
		return nil
	}
	b.SubscribeDeferred("alert", schema.Pattern(schema.TopicRiskKillSwitch), handler)
	b.SubscribeDeferred("alert", schema.Pattern(schema.TopicComplianceKillSwitch), handler)
	b.SubscribeDeferred("alert", schema.Pattern(schema.TopicRuntimeKillSwitch), handler)
	b.SubscribeDeferred("alert", schema.Pattern(schema.TopicRuntimeHaltConfirmed), handler)
	b.SubscribeDeferred("alert", schema.Pattern(schema.TopicRiskStressBreach), handler)
	b.SubscribeDeferred("alert", schema.Pattern(schema.TopicRiskStopLoss), handler)
}

func render(env bus.Envelope) (string, string, bool) {
	switch msg := env.Message.(type) {
	case schema.KillSwitchMessage:
		return "KILL SWITCH", fmt.Sprintf("source=%s reason=%s", msg.Source, msg.Reason), true
	case schema.HaltConfirmedMessage:
		return "TRADING HALTED", fmt.Sprintf("source=%s reason=%s at=%s",
			msg.State.Source, msg.State.Reason, msg.State.ActivatedAt.Format("2006-01-02 15:04:05")), true
	case schema.StressBreachMessage:
		return "STRESS BREACH", fmt.Sprintf("scenario=%s pnl=%.2f (%.2f%% of NAV %.2f)",
			msg.Scenario, msg.PnL, msg.PnLPct*100, msg.NAV), true
	case schema.StopLossMessage:
		return "STOP LOSS", fmt.Sprintf("symbol=%s price=%.2f avgCost=%.2f loss=%.2f%%",
			msg.Symbol, msg.Price, msg.AverageCost, msg.LossPct), true
	default:
		return "", "", false
	}
}
