// Package narrative writes flavor text for market news events with a
// language model.
package narrative

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/resilience"
)

// Completer is a chat model that takes a system and a user prompt.
type Completer interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Generator produces headlines through a Completer guarded by a circuit breaker.
type Generator struct {
	llm     Completer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewGenerator creates a generator. A nil breaker disables circuit breaking.
func NewGenerator(llm Completer, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Generator {
	return &Generator{
		llm:     llm,
		breaker: breaker,
		logger:  logger.With().Str("component", "narrative").Logger(),
	}
}

const systemPrompt = `You write breaking news for a virtual coin market shown in a group chat.
Write one short, funny headline (under 40 words) explaining why %s just %s by %.1f%%.
Absurd causes are welcome, for example a founder dancing with pigs or a dog learning to trade.
Mention the coin name and the exact percentage. Sound like a breaking news ticker.
Reply with the headline only.`

// Generate returns a headline for symbol moving by changePct (a signed fraction).
func (g *Generator) Generate(ctx context.Context, symbol string, changePct float64) (string, error) {
	verb := "surged"
	if changePct < 0 {
		verb = "crashed"
	}
	pct := math.Abs(changePct) * 100
	system := fmt.Sprintf(systemPrompt, symbol, verb, pct)
	user := fmt.Sprintf("Breaking news: %s %s %.1f%%", symbol, verb, pct)

	call := func(ctx context.Context) (string, error) {
		return g.llm.CompleteWithSystem(ctx, system, user)
	}

	var text string
	var err error
	if g.breaker != nil {
		text, err = resilience.ExecuteWithResult(g.breaker, ctx, call)
	} else {
		text, err = call(ctx)
	}
	if err != nil {
		return "", errors.NewExternalError("narrative", "generate", err)
	}

	text = strings.Trim(strings.TrimSpace(text), `"`)
	if text == "" {
		return "", errors.NewExternalError("narrative", "generate", fmt.Errorf("empty completion"))
	}

	g.logger.Debug().Str("instrument", symbol).Int("length", len(text)).Msg("Headline generated")
	return text, nil
}
