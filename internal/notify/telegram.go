package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Telegram sends trade alerts to a chat. Alert-only: commands are not handled.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects the bot API. Returns an error if the token is invalid.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect failed: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) Startup(symbols []string, simulation bool) {
	mode := "LIVE"
	if simulation {
		mode = "SIM"
	}
	t.sendText(fmt.Sprintf("🐱 PolyNeko started (%s)\nSymbols: %v", mode, symbols))
}

func (t *Telegram) PositionOpened(symbol, side string, shares, price, cost decimal.Decimal) {
	emoji := "📈"
	if side == "DOWN" {
		emoji = "📉"
	}
	t.sendText(fmt.Sprintf("%s %s BET %s\nShares: %s @ $%s\nCost: $%s",
		emoji, symbol, side, shares.StringFixed(0), price.StringFixed(3), cost.StringFixed(2)))
}

func (t *Telegram) PositionHedged(symbol, side string, shares, price decimal.Decimal) {
	t.sendText(fmt.Sprintf("🛡️ %s HEDGE %s\nShares: %s @ $%s",
		symbol, side, shares.StringFixed(0), price.StringFixed(3)))
}

func (t *Telegram) PositionSettled(symbol, winner string, pnl decimal.Decimal, approximate bool) {
	emoji := "🎉"
	if pnl.IsNegative() {
		emoji = "📉"
	}
	text := fmt.Sprintf("%s %s settled\nWinner: %s\nP&L: $%s", emoji, symbol, winner, pnl.StringFixed(2))
	if approximate {
		text += "\n(settled on last known price)"
	}
	t.sendText(text)
}

func (t *Telegram) PositionAborted(symbol, reason string) {
	t.sendText(fmt.Sprintf("🚫 %s position aborted: %s", symbol, reason))
}

func (t *Telegram) sendText(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}
