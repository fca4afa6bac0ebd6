package dispatch

import "strings"

// intents is checked in order; the first keyword found wins.
var intents = []struct {
	keyword string
	tab     string
}{
	{"weather", "weather"},
	{"market", "market"},
	{"disease", "disease"},
	{"fertilizer", "fert"},
}

// IntentFor maps a voice transcript to a tab name. Anything unrecognised
// goes to the crop advisor.
func IntentFor(transcript string) string {
	text := strings.ToLower(transcript)
	for _, in := range intents {
		if strings.Contains(text, in.keyword) {
			return in.tab
		}
	}
	return DefaultTab
}
