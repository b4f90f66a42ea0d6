package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"coin-exchange/internal/candles"
	"coin-exchange/internal/models"
	"coin-exchange/internal/resilience"
	"coin-exchange/pkg/utils"
)

// chartRows is the height of the text candlestick chart.
const chartRows = 12

func renderQuotes(out *Output, quotes []models.Quote) {
	table := NewTable(out, "COIN", "PRICE", "INITIAL", "CHANGE")
	for _, q := range quotes {
		table.AddRow(q.Symbol, utils.FormatPrice(q.Price), utils.FormatPrice(q.InitialPrice), out.FormatPercent(q.ChangePct))
	}
	table.Render()
}

func renderQuote(out *Output, symbol string, price float64) {
	out.Bold("💰 %s", symbol)
	out.Printf("Price: %s\n", utils.FormatPrice(price))
}

func renderTrade(out *Output, res models.TradeResult) {
	if res.Order != nil {
		o := res.Order
		out.Success("📝 %s order placed", strings.ToUpper(string(o.Side)))
		out.Printf("  Order:   %s\n", utils.ShortID(o.ID))
		out.Printf("  Coin:    %s\n", o.Instrument)
		out.Printf("  Amount:  %s\n", utils.FormatAmount(o.Amount))
		out.Printf("  Limit:   %s\n", utils.FormatPrice(o.LimitPrice))
		out.Printf("  Expires: %s\n", o.ExpiresAt.Format("2006-01-02 15:04"))
		return
	}

	r := res.Receipt
	verb := "Bought"
	total := "Paid"
	if r.Side == models.SideSell {
		verb, total = "Sold", "Received"
	}
	out.Success("✅ %s %s %s", verb, utils.FormatAmount(r.Amount), r.Instrument)
	out.Printf("  Price:   %s\n", utils.FormatPrice(r.Price))
	out.Printf("  Value:   %s\n", utils.FormatCoins(r.Gross))
	out.Printf("  Fee:     %s (%.1f%%)\n", utils.FormatCoins(r.Fee), r.FeeRate*100)
	out.Printf("  %-8s %s\n", total+":", utils.FormatCoins(r.Net))
	out.Printf("  Balance: %s\n", utils.FormatCoins(r.Balance))
}

func renderOrders(out *Output, orders []models.Order) {
	if len(orders) == 0 {
		out.Dim("No pending orders")
		return
	}
	table := NewTable(out, "ID", "SIDE", "COIN", "AMOUNT", "LIMIT", "EXPIRES")
	for _, o := range orders {
		side := out.Green("BUY")
		if o.Side == models.SideSell {
			side = out.Red("SELL")
		}
		table.AddRow(utils.ShortID(o.ID), side, o.Instrument, utils.FormatAmount(o.Amount),
			utils.FormatPrice(o.LimitPrice), o.ExpiresAt.Format("01-02 15:04"))
	}
	table.Render()
}

func renderPortfolio(out *Output, p models.Portfolio) {
	out.Bold("💼 Portfolio of %s", p.User)
	out.Printf("Cash:      %s\n", utils.FormatCoins(p.Balance))
	out.Printf("Net worth: %s\n", utils.FormatCoins(p.NetWorth))
	out.Println()

	if len(p.Positions) == 0 {
		out.Dim("No holdings")
	} else {
		table := NewTable(out, "COIN", "AMOUNT", "AVG COST", "PRICE", "VALUE", "P&L")
		for _, pos := range p.Positions {
			table.AddRow(pos.Instrument, utils.FormatAmount(pos.Amount), utils.FormatPrice(pos.AvgCost),
				utils.FormatPrice(pos.Price), utils.FormatCoins(pos.Value),
				fmt.Sprintf("%s (%s)", out.FormatPnL(pos.UnrealizedPnL), out.FormatPercent(pos.PnLPercent)))
		}
		table.Render()
	}

	if len(p.Orders) > 0 {
		out.Println()
		renderOrders(out, p.Orders)
	}
}

func tierLabel(out *Output, tier models.RiskTier) string {
	switch tier {
	case models.RiskExtreme:
		return out.Red("🔥 extreme")
	case models.RiskHigh:
		return out.Yellow("⚠️ high")
	case models.RiskMedium:
		return out.Cyan("📈 medium")
	}
	return out.Green("🛡️ low")
}

func renderVolatility(out *Output, views []models.VolatilityView) {
	table := NewTable(out, "COIN", "VOLATILITY", "BASE", "VS BASE", "RISK", "PRICE", "MEAN")
	for _, v := range views {
		table.AddRow(v.Symbol, fmt.Sprintf("%.2f%%", v.Current*100), fmt.Sprintf("%.2f%%", v.Base*100),
			out.Arrow(v.ChangePct)+" "+fmt.Sprintf("%.1f%%", math.Abs(v.ChangePct)),
			tierLabel(out, v.Tier), utils.FormatPrice(v.Price), utils.FormatPrice(v.Mean))
	}
	table.Render()
}

func renderHistory(out *Output, symbol string, records []models.PriceRecord) {
	if len(records) == 0 {
		out.Dim("No history for %s yet", symbol)
		return
	}
	out.Bold("📈 %s history (last %d)", symbol, len(records))
	table := NewTable(out, "#", "TIME", "PRICE", "CHANGE", "VOLATILITY")
	for i, r := range records {
		change := 0.0
		if i > 0 && records[i-1].Price > 0 {
			change = (r.Price/records[i-1].Price - 1) * 100
		}
		mark := ""
		if r.Event {
			mark = " 📰"
		}
		table.AddRow(fmt.Sprint(i+1), r.Timestamp.Format("01-02 15:04:05"), utils.FormatPrice(r.Price)+mark,
			out.Arrow(change)+" "+fmt.Sprintf("%.2f%%", math.Abs(change)), fmt.Sprintf("%.2f%%", r.Volatility*100))
	}
	table.Render()

	if len(records) >= 2 {
		first, last := records[0].Price, records[len(records)-1].Price
		out.Printf("\nFrom %s to %s: %s\n", utils.FormatPrice(first), utils.FormatPrice(last),
			out.FormatPercent((last/first-1)*100))
	}
}

// renderChart draws bars as a text candlestick chart with a price axis.
func renderChart(out *Output, symbol string, barMinutes int, bars []models.Candle) {
	if len(bars) == 0 {
		out.Dim("No price data for %s in this window", symbol)
		return
	}
	chart := candles.Layout(bars, chartRows)

	out.Bold("📊 %s  %d × %dm  %s", symbol, len(bars), barMinutes, out.FormatPercent(candles.ChangePercent(bars)))

	label := func(row int) string {
		switch row {
		case 0:
			return utils.FormatPrice(chart.DisplayMax)
		case chartRows - 1:
			return utils.FormatPrice(chart.DisplayMin)
		}
		return ""
	}
	axisWidth := max(len(label(0)), len(label(chartRows-1)))

	for row := 0; row < chartRows; row++ {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%*s │", axisWidth, label(row)))
		for _, g := range chart.Bars {
			c := g.Candle
			top, bottom := chart.Row(c.High, chartRows), chart.Row(c.Low, chartRows)
			bodyTop := chart.Row(math.Max(c.Open, c.Close), chartRows)
			bodyBottom := chart.Row(math.Min(c.Open, c.Close), chartRows)

			cell := " "
			switch {
			case row >= bodyTop && row <= bodyBottom:
				cell = "█"
			case row >= top && row <= bottom:
				cell = "│"
			}
			if cell != " " {
				if g.Up {
					cell = out.Green(cell)
				} else {
					cell = out.Red(cell)
				}
			}
			sb.WriteString(cell)
		}
		out.Println(sb.String())
	}
	out.Printf("%*s └%s\n", axisWidth, "", strings.Repeat("─", len(chart.Bars)))

	first, last := bars[0], bars[len(bars)-1]
	out.Dim("%s → %s  O %s  C %s", first.Start.Format("01-02 15:04"), last.End.Format("01-02 15:04"),
		utils.FormatPrice(first.Open), utils.FormatPrice(last.Close))
}

func healthLabel(out *Output, status resilience.HealthStatus) string {
	switch status {
	case resilience.HealthStatusHealthy:
		return out.Green("● " + string(status))
	case resilience.HealthStatusDegraded:
		return out.Yellow("● " + string(status))
	}
	return out.Red("● " + string(status))
}

func renderHealth(out *Output, h resilience.SystemHealth) {
	out.Printf("%s  %s\n", out.BoldText("🩺 System"), healthLabel(out, h.Status))
	out.Dim("Uptime %s", h.Uptime.Round(time.Second))
	table := NewTable(out, "COMPONENT", "STATUS", "DETAIL")
	for _, c := range h.Components {
		table.AddRow(c.Name, healthLabel(out, c.Status), c.Message)
	}
	table.Render()
}
