package events

import "strings"

var bullishTemplates = []string{
	"BREAKING! {coin} founder caught dancing with farm animals, market confidence soars!",
	"{coin} rallies after a celebrity posts a {coin} meme; traders call it \"mystic power\".",
	"{coin} community announces a to-the-moon plan, investors pile in!",
	"A major exchange lists {coin}, triggering a buying frenzy!",
}

var bearishTemplates = []string{
	"BREAKING! Rumors say the {coin} founder has fled, panic selling follows!",
	"{coin} slumps after a celebrity tweets \"not convinced\", confidence shaken!",
	"{coin} exchange suffers a technical outage, withdrawals frozen!",
	"A country bans {coin} trading, the market is in despair!",
}

// fallbackHeadline picks a canned headline for the move direction.
func fallbackHeadline(symbol string, bullish bool, pick func(n int) int) string {
	list := bearishTemplates
	if bullish {
		list = bullishTemplates
	}
	return strings.ReplaceAll(list[pick(len(list))], "{coin}", symbol)
}
