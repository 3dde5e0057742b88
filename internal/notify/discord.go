package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	colorGreen = 0x00ff00
	colorRed   = 0xff0000
	colorGray  = 0x95a5a6
)

// Discord posts trade alerts to a webhook as embeds
type Discord struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscord creates a Discord notifier. Returns nil if no webhook is set,
// which Multi treats as absent.
func NewDiscord(webhookURL string) *Discord {
	if webhookURL == "" {
		log.Warn().Msg("⚠ Discord webhook not configured")
		return nil
	}
	log.Info().Msg("✓ Discord webhook configured")
	return &Discord{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Footer      *footer     `json:"footer,omitempty"`
	Fields      []embedFold `json:"fields,omitempty"`
}

type footer struct {
	Text string `json:"text"`
}

type embedFold struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (d *Discord) Startup(symbols []string, simulation bool) {
	mode := "LIVE"
	if simulation {
		mode = "SIM"
	}
	d.send(embed{
		Title:       "🐱 PolyNeko started",
		Description: fmt.Sprintf("**Mode:** %s\n**Symbols:** %s", mode, strings.Join(symbols, ", ")),
		Color:       colorGray,
	})
}

func (d *Discord) PositionOpened(symbol, side string, shares, price, cost decimal.Decimal) {
	emoji, color := "📈", colorGreen
	if side == "DOWN" {
		emoji, color = "📉", colorRed
	}
	d.send(embed{
		Title: fmt.Sprintf("%s %s: BET %s", emoji, symbol, side),
		Description: fmt.Sprintf("**Shares:** %s\n**Price:** $%s\n**Cost:** $%s",
			shares.StringFixed(0), price.StringFixed(3), cost.StringFixed(2)),
		Color: color,
	})
}

func (d *Discord) PositionHedged(symbol, side string, shares, price decimal.Decimal) {
	d.send(embed{
		Title: fmt.Sprintf("🛡️ %s: HEDGE %s", symbol, side),
		Description: fmt.Sprintf("**Shares:** %s\n**Price:** $%s\n**Cost:** $%s",
			shares.StringFixed(0), price.StringFixed(3), shares.Mul(price).StringFixed(2)),
		Color: colorGray,
	})
}

func (d *Discord) PositionSettled(symbol, winner string, pnl decimal.Decimal, approximate bool) {
	emoji, color := "🎉", colorGreen
	if pnl.IsNegative() {
		emoji, color = "📉", colorRed
	}
	desc := fmt.Sprintf("**Winner:** %s\n**P&L:** $%s", winner, pnl.StringFixed(2))
	if approximate {
		desc += "\n**Note:** settled on last known price"
	}
	d.send(embed{
		Title:       fmt.Sprintf("%s Settlement: %s", emoji, symbol),
		Description: desc,
		Color:       color,
		Footer:      &footer{Text: "PolyNeko | " + time.Now().UTC().Format("2006-01-02 15:04:05")},
	})
}

func (d *Discord) PositionAborted(symbol, reason string) {
	d.send(embed{
		Title:       fmt.Sprintf("🚫 %s: position aborted", symbol),
		Description: "**Reason:** " + reason,
		Color:       colorRed,
	})
}

func (d *Discord) send(e embed) {
	payload, err := json.Marshal(map[string]interface{}{"embeds": []embed{e}})
	if err != nil {
		return
	}
	resp, err := d.httpClient.Post(d.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("Discord send failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("Discord: unexpected status")
	}
}
