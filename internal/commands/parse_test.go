package commands

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		kind Kind
		args string
	}{
		{"!guess 1234", KindGuess, "1234"},
		{"!GUESS   1,234.5 ", KindGuess, "1,234.5"},
		{"!slotrequest Sweet Bonanza", KindSlotRequest, "Sweet Bonanza"},
		{"!sr   Gates   of Olympus", KindSlotRequest, "Gates of Olympus"},
		{"!Join red", KindJoin, "red"},
		{"!points", KindPoints, ""},
		{"!guess\t5", KindGuess, "5"},
		{"!sr\u00a0Wanted\tDead or a Wild", KindSlotRequest, "Wanted Dead or a Wild"},
		{"!join\nred", KindJoin, "red"},
		{"!redeem Hydrate Break", KindRedeem, "Hydrate Break"},
		{"!guessing 5", KindHotword, "!guessing 5"},
		{"!unknown", KindHotword, "!unknown"},
		{"what a big win", KindHotword, "what a big win"},
		{"  ", KindHotword, ""},
	}
	for _, tt := range tests {
		got := Parse(tt.text)
		if got.Kind != tt.kind || got.Args != tt.args {
			t.Errorf("Parse(%q) = %s %q, want %s %q", tt.text, got.Kind, got.Args, tt.kind, tt.args)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1234", 1234, true},
		{"1,234.5", 1234.5, true},
		{"$300", 300, true},
		{"0", 0, true},
		{"", 0, false},
		{"-5", 0, false},
		{"lots", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseAmount(%q) = %v %v, want %v %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
