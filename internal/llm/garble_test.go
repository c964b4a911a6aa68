package llm

import (
	"strings"
	"testing"
)

func TestIsGarbled(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"normal prose", "The study reports a 12% improvement over the baseline method.", false},
		{"short string never garbled", "!!!", false},
		{"valid json never garbled", `{"triples": [{"subject": "a", "predicate": "b", "object": "c"}]}`, false},
		{"word triplication", "the model the the the produced output", true},
		{"triplication case insensitive", "output The THE the continues here", true},
		{"two repeats allowed", "it was very very good indeed overall", false},
		{"symbol noise", "@@## $$%% ^^&& **(( @@## $$%% ^^&&", true},
		{"mostly non-alphanumeric", "a @# $% ^& *( )! @# $% ^& *( )!", true},
		{"punctuation heavy but readable", "Wait... really?! Yes -- truly, it works (somehow).", false},
		{"empty", "", false},
		{"whitespace only", "   \n\t  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsGarbled(tt.text); got != tt.want {
				t.Errorf("IsGarbled(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsGarbled_LongRepetitiveOutput(t *testing.T) {
	repeated := strings.Repeat("token ", 50)
	if !IsGarbled(repeated) {
		t.Error("long single-token repetition should be garbled")
	}
}
