package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/exchange"
	"coin-exchange/internal/logging"
	"coin-exchange/internal/models"
	"coin-exchange/internal/resilience"
	"coin-exchange/pkg/utils"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

const consoleUsageTemplate = `{{if .HasAvailableSubCommands}}{{range $group := .Groups}}
{{.Title}}{{range $.Commands}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Use 36}} {{.Short}}{{end}}{{end}}
{{end}}{{else}}usage: {{.Use}}{{if gt (len .Aliases) 0}}
aliases: {{.NameAndAliases}}{{end}}
{{end}}`

// Console is a line-oriented front end to an exchange. Every line counts as
// activity on the console's channel, the way a chat message would.
type Console struct {
	ex      *exchange.Exchange
	out     *Output
	user    string
	channel string
	health  *resilience.HealthMonitor
}

// NewConsole creates a console acting as user. A non-empty channel is
// reported as active on every line.
func NewConsole(ex *exchange.Exchange, out *Output, user, channel string) *Console {
	return &Console{ex: ex, out: out, user: user, channel: channel}
}

// SetHealth enables the status command.
func (c *Console) SetHealth(m *resilience.HealthMonitor) { c.health = m }

// User returns the acting user.
func (c *Console) User() string { return c.user }

// Run reads commands from in until EOF, quit or ctx cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if err := c.Exec(ctx, line); errors.Is(err, errQuit) {
				return nil
			}
			c.prompt()
		}
	}
}

func (c *Console) prompt() {
	c.out.Printf("%s> ", c.out.Cyan(c.user))
}

// Exec runs one command line. Command failures are printed; only quit is returned.
func (c *Console) Exec(ctx context.Context, line string) error {
	if c.channel != "" {
		c.ex.NotifyActivity(c.channel)
	}

	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	args[0] = strings.ToLower(args[0])

	cmd := c.command()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil || errors.Is(err, errQuit) {
		return err
	}

	logger := logging.WithUser(logging.FromContext(ctx), c.user)
	if errors.IsUserError(err) {
		logger.Debug().Err(err).Str("line", line).Msg("Console command rejected")
		c.out.Error("❌ %s", userMessage(err))
		return nil
	}
	logger.Error().Err(err).Str("line", line).Msg("Console command failed")
	c.out.Error("❌ %v", err)
	return nil
}

// command builds the command tree for one line, so no parse state leaks
// between lines.
func (c *Console) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "console",
		Short:         "📈 Coin exchange commands",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return unknownCommand(args[0])
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(c.out.Writer())
	root.SetErr(c.out.Writer())
	root.SetUsageTemplate(consoleUsageTemplate)

	root.AddGroup(
		&cobra.Group{ID: "market", Title: "Market"},
		&cobra.Group{ID: "trading", Title: "Trading"},
		&cobra.Group{ID: "account", Title: "Account"},
		&cobra.Group{ID: "admin", Title: "Admin"},
		&cobra.Group{ID: "broadcast", Title: "Broadcast"},
		&cobra.Group{ID: "console", Title: "Console"},
	)

	add := func(group, use, short string, args cobra.PositionalArgs, run func(cmd *cobra.Command, args []string) error, aliases ...string) {
		root.AddCommand(&cobra.Command{
			Use:                use,
			Short:              short,
			GroupID:            group,
			Aliases:            aliases,
			Args:               usageArgs(args),
			DisableFlagParsing: true,
			RunE:               run,
		})
	}

	add("market", "price [coin]", "Show one price or the whole price table", cobra.MaximumNArgs(1), c.cmdPrice)
	add("market", "coins", "List supported coins", cobra.NoArgs, c.cmdCoins)
	add("market", "volatility", "Volatility and risk tier per coin", cobra.NoArgs, c.cmdVolatility)
	add("market", "history <coin> [count]", "Recent price records (default 25)", cobra.RangeArgs(1, 2), c.cmdHistory)
	add("market", "kline <coin> [bar-minutes] [bars]", "Candlestick chart (default 5m × 30)", cobra.RangeArgs(1, 3), c.cmdKline)
	add("trading", "buy <coin> <amount> [price]", "Buy at market, or place a limit order below market", cobra.RangeArgs(2, 3), c.cmdTrade)
	add("trading", "sell <coin> <amount> [price]", "Sell at market, or place a limit order above market", cobra.RangeArgs(2, 3), c.cmdTrade)
	add("trading", "cancel <order-id>", "Cancel a pending order (id prefix is enough)", cobra.ExactArgs(1), c.cmdCancel)
	add("trading", "orders", "List your pending orders", cobra.NoArgs, c.cmdOrders)
	add("account", "assets", "Cash, net worth and holdings", cobra.NoArgs, c.cmdAssets, "portfolio")
	add("account", "user [name]", "Show or switch the acting user", cobra.MaximumNArgs(1), c.cmdUser)
	add("admin", "reset [user]", "Reset an account (admin)", cobra.MaximumNArgs(1), c.cmdReset)
	add("admin", "reset-market", "Reset prices, accounts and orders (admin)", cobra.NoArgs, c.cmdResetMarket)
	add("admin", "event <coin>", "Fire a news event now (admin)", cobra.ExactArgs(1), c.cmdEvent)
	add("admin", "tick", "Run one market update now", cobra.NoArgs, c.cmdTick)
	add("broadcast", "channels", "Broadcast whitelist and activity", cobra.NoArgs, c.cmdChannels)
	add("broadcast", "activity <channel>", "Record a message on a channel", cobra.ExactArgs(1), c.cmdActivity)
	add("console", "status", "Component health", cobra.NoArgs, c.cmdStatus)
	add("console", "quit", "Leave the console", cobra.ArbitraryArgs,
		func(*cobra.Command, []string) error { return errQuit }, "exit")

	root.SetHelpCommand(&cobra.Command{
		Use:     "help [command]",
		Short:   "Show this help, or the usage of one command",
		GroupID: "console",
		Aliases: []string{"?"},
		Args:    usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Root().Help()
			}
			target, _, err := cmd.Root().Find(args)
			if err != nil || target == nil || target == cmd.Root() {
				return unknownCommand(args[0])
			}
			return target.Help()
		},
	})
	return root
}

func unknownCommand(name string) error {
	return errors.NewValidationError("command", name,
		fmt.Sprintf("Unknown command %q, type help for the list", name), errors.ErrInvalidRange)
}

// usageArgs reports an argument count violation as the command's usage line.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError(cmd.Use)
		}
		return nil
	}
}

// userMessage extracts the human-readable part of a rejection.
func userMessage(err error) string {
	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	var oerr *errors.OrderError
	if errors.As(err, &oerr) {
		return oerr.Reason
	}
	return err.Error()
}

func usageError(usage string) error {
	return errors.NewValidationError("usage", usage, "usage: "+usage, errors.ErrInvalidRange)
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.NewValidationError("amount", s, fmt.Sprintf("%q is not a number", s), errors.ErrInvalidAmount)
	}
	return v, nil
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.NewValidationError("price", s, fmt.Sprintf("%q is not a price", s), errors.ErrInvalidOrderPrice)
	}
	return v, nil
}

func parseCount(s, field string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.NewValidationError(field, s, fmt.Sprintf("%s must be a whole number", field), errors.ErrInvalidRange)
	}
	return v, nil
}

func (c *Console) cmdPrice(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		renderQuotes(c.out, c.ex.Quotes())
		return nil
	}
	symbol := models.NormalizeSymbol(args[0])
	price, err := c.ex.Price(symbol)
	if err != nil {
		return err
	}
	renderQuote(c.out, symbol, price)
	return nil
}

func (c *Console) cmdCoins(*cobra.Command, []string) error {
	c.out.Bold("🪙 Supported coins")
	for _, q := range c.ex.Instruments() {
		c.out.Printf("• %-8s %s\n", q.Symbol, utils.FormatPrice(q.Price))
	}
	return nil
}

func (c *Console) cmdVolatility(*cobra.Command, []string) error {
	renderVolatility(c.out, c.ex.VolatilityReport())
	return nil
}

func (c *Console) cmdHistory(cmd *cobra.Command, args []string) error {
	limit := exchange.DefaultHistoryLimit
	if len(args) > 1 {
		n, err := parseCount(args[1], "count")
		if err != nil {
			return err
		}
		limit = n
	}
	symbol := models.NormalizeSymbol(args[0])
	records, err := c.ex.History(cmd.Context(), symbol, limit)
	if err != nil {
		return err
	}
	renderHistory(c.out, symbol, records)
	return nil
}

func (c *Console) cmdKline(cmd *cobra.Command, args []string) error {
	barMinutes, bars := 5, 30
	var err error
	if len(args) > 1 {
		if barMinutes, err = parseCount(args[1], "bar-minutes"); err != nil {
			return err
		}
	}
	if len(args) > 2 {
		if bars, err = parseCount(args[2], "bars"); err != nil {
			return err
		}
	}
	symbol := models.NormalizeSymbol(args[0])
	candles, err := c.ex.Candlestick(cmd.Context(), symbol, barMinutes, bars)
	if err != nil {
		return err
	}
	renderChart(c.out, symbol, barMinutes, candles)
	return nil
}

// cmdTrade serves both buy and sell; the side is the command name.
func (c *Console) cmdTrade(cmd *cobra.Command, args []string) error {
	side, err := models.ParseSide(cmd.Name())
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	limit := 0.0
	if len(args) > 2 {
		if limit, err = parsePrice(args[2]); err != nil {
			return err
		}
	}

	var res models.TradeResult
	if side == models.SideBuy {
		res, err = c.ex.Buy(cmd.Context(), c.user, args[0], amount, limit)
	} else {
		res, err = c.ex.Sell(cmd.Context(), c.user, args[0], amount, limit)
	}
	if err != nil {
		return err
	}
	renderTrade(c.out, res)
	return nil
}

func (c *Console) cmdCancel(_ *cobra.Command, args []string) error {
	order, err := c.ex.CancelOrder(c.user, args[0])
	if err != nil {
		return err
	}
	c.out.Success("🗑️ Cancelled %s %s %s @ %s", strings.ToUpper(string(order.Side)),
		utils.FormatAmount(order.Amount), order.Instrument, utils.FormatPrice(order.LimitPrice))
	return nil
}

func (c *Console) cmdOrders(*cobra.Command, []string) error {
	renderOrders(c.out, c.ex.Orders(c.user))
	return nil
}

func (c *Console) cmdAssets(*cobra.Command, []string) error {
	renderPortfolio(c.out, c.ex.Portfolio(c.user))
	return nil
}

func (c *Console) cmdUser(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		c.user = args[0]
	}
	role := ""
	if c.ex.IsAdmin(c.user) {
		role = c.out.Yellow(" (admin)")
	}
	c.out.Printf("Acting as %s%s\n", c.out.BoldText(c.user), role)
	return nil
}

func (c *Console) cmdReset(_ *cobra.Command, args []string) error {
	target := ""
	if len(args) > 0 {
		target = args[0]
	}
	if err := c.ex.ResetAccount(c.user, target); err != nil {
		return err
	}
	if target == "" {
		target = c.user
	}
	c.out.Success("✅ Account of %s reset", target)
	return nil
}

func (c *Console) cmdResetMarket(*cobra.Command, []string) error {
	if err := c.ex.ResetMarket(c.user); err != nil {
		return err
	}
	c.out.Warning("⚠️ Market reset to initial prices")
	return nil
}

func (c *Console) cmdEvent(cmd *cobra.Command, args []string) error {
	if err := c.ex.TriggerEvent(cmd.Context(), c.user, args[0]); err != nil {
		return err
	}
	c.out.Info("📰 Event fired on %s", models.NormalizeSymbol(args[0]))
	return nil
}

func (c *Console) cmdTick(cmd *cobra.Command, _ []string) error {
	if !c.ex.IsAdmin(c.user) {
		return errors.NewValidationError("caller", c.user, "only admins can force a market update", errors.ErrPermissionDenied)
	}
	if err := c.ex.Tick(cmd.Context()); err != nil {
		return err
	}
	c.out.Success("✅ Market updated (tick %d)", c.ex.Ticks())
	return nil
}

func (c *Console) cmdChannels(*cobra.Command, []string) error {
	channels := c.ex.BroadcastChannels()
	if len(channels) == 0 {
		c.out.Dim("Broadcast whitelist is empty")
		return nil
	}
	active := make(map[string]bool)
	for _, ch := range c.ex.ActiveChannels() {
		active[ch.String()] = true
	}
	table := NewTable(c.out, "CHANNEL", "STATUS", "LAST MESSAGE")
	for _, ch := range channels {
		status := c.out.DimText("idle")
		if active[ch.String()] {
			status = c.out.Green("active")
		}
		seen := c.out.DimText("never")
		if ts, ok := c.ex.LastActivity(ch.String()); ok {
			seen = ts.Format("2006-01-02 15:04:05")
		}
		table.AddRow(ch.String(), status, seen)
	}
	table.Render()
	c.out.Dim("📰 %d events fired since start", c.ex.EventsFired())
	return nil
}

func (c *Console) cmdActivity(_ *cobra.Command, args []string) error {
	if !c.ex.NotifyActivity(args[0]) {
		c.out.Warning("%s is not whitelisted, activity ignored", args[0])
		return nil
	}
	c.out.Success("Activity recorded on %s", args[0])
	return nil
}

func (c *Console) cmdStatus(cmd *cobra.Command, _ []string) error {
	if c.health == nil {
		c.out.Dim("Health checks are not available in this console")
		return nil
	}
	renderHealth(c.out, c.health.Check(cmd.Context()))
	return nil
}
