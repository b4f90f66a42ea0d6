package events

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/clock"
	"coin-exchange/internal/market"
	"coin-exchange/internal/models"
	"coin-exchange/internal/notify"
)

var (
	start = time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	group = models.Channel{Platform: "qq", Kind: "GroupMessage", ID: "1001"}
	quiet = models.Channel{Platform: "qq", Kind: "GroupMessage", ID: "2002"}
)

type fakeShock struct {
	mu     sync.Mutex
	calls  []string
	pcts   []float64
	failOn string
}

func (f *fakeShock) ApplyEventShock(symbol string, pct float64) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if symbol == f.failOn {
		return 0, 0, fmt.Errorf("unknown instrument")
	}
	f.calls = append(f.calls, symbol)
	f.pcts = append(f.pcts, pct)
	return 100, 100 * (1 + pct), nil
}

type fakeText struct {
	text string
	err  error
}

func (f fakeText) Generate(context.Context, string, float64) (string, error) {
	return f.text, f.err
}

type sink struct {
	mu  sync.Mutex
	got []notify.Message
}

func (s *sink) Name() string { return "test" }

func (s *sink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return nil
}

func (s *sink) messages() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.got...)
}

func newGenerator(t *testing.T, probability float64, text TextGenerator) (*Generator, *clock.Manual, *fakeShock, *sink) {
	t.Helper()
	clk := clock.NewManual(start)
	shock := &fakeShock{}
	out := &sink{}
	cfg := DefaultConfig()
	cfg.Probability = probability

	g := NewGenerator(cfg, Deps{
		Clock:   clk,
		RNG:     market.NewRNG(99),
		Tracker: NewActivityTracker([]models.Channel{group, quiet}),
		Shock:   shock,
		Text:    text,
		Out:     out,
		Symbols: []string{"PIG"},
		Logger:  zerolog.Nop(),
	})
	return g, clk, shock, out
}

func TestEvaluateRequiresActiveChannel(t *testing.T) {
	g, clk, shock, _ := newGenerator(t, 1, nil)
	ctx := context.Background()

	assert.False(t, g.Evaluate(ctx), "no activity recorded")

	g.Tracker().Record(group.String(), start)
	clk.Advance(61 * time.Minute)
	assert.False(t, g.Evaluate(ctx), "activity older than threshold")

	g.Tracker().Record(group.String(), clk.Now())
	assert.True(t, g.Evaluate(ctx))
	g.Wait()
	assert.Equal(t, []string{"PIG"}, shock.calls)
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	g, clk, _, _ := newGenerator(t, 1, nil)
	ctx := context.Background()
	g.Tracker().Record(group.String(), start)

	require.True(t, g.Evaluate(ctx))
	clk.Advance(19 * time.Minute)
	g.Tracker().Record(group.String(), clk.Now())
	assert.False(t, g.Evaluate(ctx))
	clk.Advance(time.Minute)
	assert.True(t, g.Evaluate(ctx))
	g.Wait()
	assert.Equal(t, uint64(2), g.Fired())
}

func TestEvaluateProbabilityZeroNeverFires(t *testing.T) {
	g, clk, _, _ := newGenerator(t, 0, nil)
	g.Tracker().Record(group.String(), start)
	for i := 0; i < 50; i++ {
		clk.Advance(time.Hour)
		g.Tracker().Record(group.String(), clk.Now())
		assert.False(t, g.Evaluate(context.Background()))
	}
}

func TestFiringFallsBackToTemplateAndBroadcastsToActiveOnly(t *testing.T) {
	g, _, shock, out := newGenerator(t, 1, fakeText{err: fmt.Errorf("model offline")})
	g.Tracker().Record(group.String(), start)

	require.True(t, g.Evaluate(context.Background()))
	g.Wait()

	msgs := out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, group, msgs[0].Channel)
	assert.Contains(t, msgs[0].Text, "PIG")
	pct := shock.pcts[0]
	assert.GreaterOrEqual(t, abs(pct), 0.05)
	assert.LessOrEqual(t, abs(pct), 0.20)

	templates := bearishTemplates
	if pct > 0 {
		templates = bullishTemplates
	}
	found := false
	for _, tpl := range templates {
		if strings.ReplaceAll(tpl, "{coin}", "PIG") == msgs[0].Text {
			found = true
		}
	}
	assert.True(t, found, "headline comes from the template set for the move direction")
}

func TestFiringUsesGeneratedText(t *testing.T) {
	g, _, _, out := newGenerator(t, 1, fakeText{text: "PIG moons"})
	g.Tracker().Record(group.String(), start)
	g.Tracker().Record(quiet.String(), start)

	g.Trigger(context.Background(), "PIG")
	g.Wait()

	msgs := out.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "PIG moons", m.Text)
	}
	assert.Equal(t, start, g.LastFired())
}

func TestFiringLogsGenerationTimeout(t *testing.T) {
	g, _, _, out := newGenerator(t, 1, fakeText{err: fmt.Errorf("chat completion: %w", context.DeadlineExceeded)})
	var logs bytes.Buffer
	g.logger = zerolog.New(&logs)
	g.Tracker().Record(group.String(), start)

	g.Trigger(context.Background(), "PIG")
	g.Wait()

	require.Len(t, out.messages(), 1)
	assert.Contains(t, logs.String(), "operation timed out")
	assert.Contains(t, logs.String(), `"instrument":"PIG"`)
	assert.Equal(t, uint64(1), g.Fired())
}

func TestFiringSwallowsShockFailure(t *testing.T) {
	g, _, shock, out := newGenerator(t, 1, nil)
	shock.failOn = "PIG"
	g.Tracker().Record(group.String(), start)

	require.True(t, g.Evaluate(context.Background()))
	g.Wait()
	assert.Empty(t, out.messages())
}

func TestActivityTrackerIgnoresUnlistedChannels(t *testing.T) {
	tr := NewActivityTracker([]models.Channel{group, group})
	assert.Len(t, tr.Channels(), 1)
	assert.False(t, tr.Record("tg:GroupMessage:1", start))
	assert.True(t, tr.Record(group.String(), start))

	tr.SetChannels([]models.Channel{quiet})
	_, ok := tr.LastSeen(group.String())
	assert.False(t, ok)
	assert.Empty(t, tr.Active(start, time.Hour))
}

// Property: two evaluations closer together than the cooldown never both fire.
func TestProperty_CooldownPreventsDoubleFiring(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("at most one firing per cooldown window", prop.ForAll(
		func(gapSeconds int64, seed int64) bool {
			clk := clock.NewManual(start)
			tr := NewActivityTracker([]models.Channel{group})
			tr.Record(group.String(), start)
			g := NewGenerator(DefaultConfig(), Deps{
				Clock:   clk,
				RNG:     market.NewRNG(seed),
				Tracker: tr,
				Shock:   &fakeShock{},
				Symbols: []string{"PIG"},
				Logger:  zerolog.Nop(),
			})
			g.cfg.Probability = 1

			first := g.Evaluate(context.Background())
			clk.Advance(time.Duration(gapSeconds) * time.Second)
			second := g.Evaluate(context.Background())
			g.Wait()
			return first && !second
		},
		gen.Int64Range(0, int64((20*time.Minute-time.Second)/time.Second)),
		gen.Int64Range(1, 1<<30),
	))

	properties.TestingRun(t)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
