package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/clock"
	"coin-exchange/internal/exchange"
	"coin-exchange/internal/logging"
	"coin-exchange/internal/models"
	"coin-exchange/internal/resilience"
	"coin-exchange/internal/store"
	"coin-exchange/pkg/utils"
)

var group = models.Channel{Platform: "qq", Kind: "GroupMessage", ID: "1001"}

func newTestConsole(t *testing.T, user string) (*Console, *exchange.Exchange, *bytes.Buffer) {
	t.Helper()
	opts := exchange.DefaultOptions()
	opts.Seed = 7
	opts.Admins = []string{"admin"}
	opts.EventsEnabled = false
	opts.SnapshotEvery = 0

	ex := exchange.New(opts, exchange.Deps{
		Store:    store.NewMemoryStore(),
		Clock:    clock.NewManual(time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)),
		Channels: []models.Channel{group},
	})
	buf := &bytes.Buffer{}
	return NewConsole(ex, NewWriterOutput(buf, false), user, group.String()), ex, buf
}

func exec(t *testing.T, c *Console, buf *bytes.Buffer, line string) string {
	t.Helper()
	buf.Reset()
	require.NoError(t, c.Exec(context.Background(), line))
	return buf.String()
}

func TestConsoleMarketBuy(t *testing.T) {
	c, ex, buf := newTestConsole(t, "alice")

	out := exec(t, c, buf, "buy pig 2")
	assert.Contains(t, out, "Bought 2 PIG")
	assert.Contains(t, out, "Price:   100.00")

	p := ex.Portfolio("alice")
	require.Len(t, p.Positions, 1)
	assert.InDelta(t, 2.0, p.Positions[0].Amount, 1e-9)

	out = exec(t, c, buf, "assets")
	assert.Contains(t, out, "Portfolio of alice")
	assert.Contains(t, out, "PIG")
}

func TestConsoleRejectionsArePrinted(t *testing.T) {
	c, ex, buf := newTestConsole(t, "alice")

	assert.Contains(t, exec(t, c, buf, "buy PIG 1000"), "need")
	assert.Contains(t, exec(t, c, buf, "buy PIG"), "usage: buy <coin> <amount> [price]")
	assert.Contains(t, exec(t, c, buf, "buy PIG abc"), `"abc" is not a number`)
	assert.Contains(t, exec(t, c, buf, "sell PIG 1"), "❌")
	assert.Contains(t, exec(t, c, buf, "dance"), `Unknown command "dance"`)
	assert.Contains(t, exec(t, c, buf, "tick"), "only admins")

	assert.InDelta(t, 10000.0, ex.Portfolio("alice").Balance, 1e-9)
}

func TestConsoleLimitOrderAndCancelByPrefix(t *testing.T) {
	c, ex, buf := newTestConsole(t, "alice")

	out := exec(t, c, buf, "buy PIG 1 50")
	assert.Contains(t, out, "BUY order placed")

	orders := ex.Orders("alice")
	require.Len(t, orders, 1)
	id := orders[0].ID

	assert.Contains(t, exec(t, c, buf, "orders"), utils.ShortID(id))
	assert.Contains(t, exec(t, c, buf, "cancel "+id[:8]), "Cancelled BUY 1 PIG @ 50.00")
	assert.Empty(t, ex.Orders("alice"))
	assert.Contains(t, exec(t, c, buf, "orders"), "No pending orders")
}

func TestConsoleAdminCommands(t *testing.T) {
	c, ex, buf := newTestConsole(t, "alice")
	exec(t, c, buf, "buy DOGE 10")

	assert.Contains(t, exec(t, c, buf, "reset-market"), "only admins")

	assert.Contains(t, exec(t, c, buf, "user admin"), "(admin)")
	assert.Equal(t, "admin", c.User())

	assert.Contains(t, exec(t, c, buf, "tick"), "Market updated (tick 1)")
	assert.Equal(t, uint64(1), ex.Ticks())

	assert.Contains(t, exec(t, c, buf, "reset alice"), "Account of alice reset")
	assert.Empty(t, ex.Portfolio("alice").Positions)
}

func TestConsoleRecordsChannelActivity(t *testing.T) {
	c, ex, buf := newTestConsole(t, "alice")
	assert.Empty(t, ex.ActiveChannels())

	exec(t, c, buf, "")
	require.Len(t, ex.ActiveChannels(), 1)
	assert.Equal(t, group, ex.ActiveChannels()[0])

	out := exec(t, c, buf, "channels")
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "2024-04-01 08:00:00")
	assert.Contains(t, out, "0 events fired")
	assert.Contains(t, exec(t, c, buf, "activity qq:GroupMessage:9"), "not whitelisted")
}

func TestConsoleRunStopsAtQuit(t *testing.T) {
	c, _, buf := newTestConsole(t, "alice")

	in := strings.NewReader("price PIG\nquit\nprice DOGE\n")
	require.NoError(t, c.Run(context.Background(), in))

	out := buf.String()
	assert.Contains(t, out, "💰 PIG")
	assert.NotContains(t, out, "💰 DOGE")
}

func TestConsoleStatus(t *testing.T) {
	c, _, buf := newTestConsole(t, "alice")
	assert.Contains(t, exec(t, c, buf, "status"), "not available")

	c.SetHealth(resilience.NewHealthMonitor(resilience.HealthMonitorConfig{
		MemoryThresholdMB:  1 << 20,
		GoroutineThreshold: 1 << 20,
	}, nil))
	out := exec(t, c, buf, "status")
	assert.Contains(t, out, "HEALTHY")
	assert.Contains(t, out, "memory")
}

func TestHelpListsEveryCommand(t *testing.T) {
	c, _, buf := newTestConsole(t, "alice")
	out := exec(t, c, buf, "?")
	commands := c.command().Commands()
	require.NotEmpty(t, commands)
	for _, cmd := range commands {
		assert.Contains(t, out, cmd.Use)
	}
	assert.Contains(t, out, "Trading")
	assert.Contains(t, out, "Admin")

	out = exec(t, c, buf, "help buy")
	assert.Contains(t, out, "usage: buy <coin> <amount> [price]")
	assert.Contains(t, exec(t, c, buf, "help assets"), "portfolio")
	assert.Contains(t, exec(t, c, buf, "help dance"), `Unknown command "dance"`)
}

func TestConsoleAliasesAndCase(t *testing.T) {
	c, _, buf := newTestConsole(t, "alice")
	exec(t, c, buf, "BUY pig 1")

	assert.Contains(t, exec(t, c, buf, "portfolio"), "Portfolio of alice")
	assert.ErrorIs(t, c.Exec(context.Background(), "exit"), errQuit)
	assert.Contains(t, exec(t, c, buf, "coins extra"), "usage: coins")
	assert.Contains(t, exec(t, c, buf, "buy PIG -1"), "must be positive")
}

func TestConsoleLogsRejectionsToContextLogger(t *testing.T) {
	c, _, buf := newTestConsole(t, "alice")
	var logs bytes.Buffer
	ctx := logging.WithLogger(context.Background(), zerolog.New(&logs).Level(zerolog.DebugLevel))

	require.NoError(t, c.Exec(ctx, "sell PIG 1"))
	assert.Contains(t, buf.String(), "❌")
	assert.Contains(t, logs.String(), "Console command rejected")
	assert.Contains(t, logs.String(), `"user":"alice"`)
}
