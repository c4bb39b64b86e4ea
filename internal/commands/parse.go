package commands

import (
	"math"
	"strconv"
	"strings"
)

// ChatCommand represents chat commands
type ChatCommand string

const (
	ChatCommandGuess            ChatCommand = "!guess"
	ChatCommandSlotRequest      ChatCommand = "!slotrequest"
	ChatCommandSlotRequestShort ChatCommand = "!sr"
	ChatCommandJoin             ChatCommand = "!join"
	ChatCommandPoints           ChatCommand = "!points"
	ChatCommandRedeem           ChatCommand = "!redeem"
)

// Kind is what a chat line was classified as.
type Kind int

const (
	// KindHotword is the fallback: the line is scanned for hot words.
	KindHotword Kind = iota
	KindGuess
	KindSlotRequest
	KindJoin
	KindPoints
	KindRedeem
)

func (k Kind) String() string {
	switch k {
	case KindGuess:
		return "guess"
	case KindSlotRequest:
		return "slotrequest"
	case KindJoin:
		return "join"
	case KindPoints:
		return "points"
	case KindRedeem:
		return "redeem"
	default:
		return "hotword"
	}
}

// Parsed is one classified chat line.
type Parsed struct {
	Kind Kind
	Args string
}

// precedence lists the commands in the order they are tried.
var precedence = []struct {
	words []ChatCommand
	kind  Kind
}{
	{[]ChatCommand{ChatCommandGuess}, KindGuess},
	{[]ChatCommand{ChatCommandSlotRequest, ChatCommandSlotRequestShort}, KindSlotRequest},
	{[]ChatCommand{ChatCommandJoin}, KindJoin},
	{[]ChatCommand{ChatCommandPoints}, KindPoints},
	{[]ChatCommand{ChatCommandRedeem}, KindRedeem},
}

// Parse classifies text to at most one command. The command word is matched
// ignoring case; everything else falls back to KindHotword.
func Parse(text string) Parsed {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return Parsed{Kind: KindHotword, Args: text}
	}

	fields := strings.Fields(text)
	word := strings.ToLower(fields[0])
	args := strings.Join(fields[1:], " ")

	for _, p := range precedence {
		for _, w := range p.words {
			if word == string(w) {
				return Parsed{Kind: p.kind, Args: args}
			}
		}
	}
	return Parsed{Kind: KindHotword, Args: text}
}

// ParseAmount reads a non-negative number, accepting thousands separators
// and a leading currency sign: "1,234.5", "$300".
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
