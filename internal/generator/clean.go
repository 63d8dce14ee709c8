package generator

import (
	"regexp"
	"strings"
)

// MaxLen is the tweet length limit in characters.
const MaxLen = 280

// minLen drops fragments too short to be a meaningful tweet.
const minLen = 10

var (
	reLabel  = regexp.MustCompile(`^(Tweet \d+:|Step \d+:|#\d+:)`)
	reBold   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	reItalic = regexp.MustCompile(`\*(.*?)\*`)
	reSpace  = regexp.MustCompile(`\s+`)
)

// ParseThread extracts the [MAIN]/[REPLY] lines of a model answer.
func ParseThread(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[MAIN]") && !strings.HasPrefix(line, "[REPLY]") {
			continue
		}
		line = strings.ReplaceAll(line, "[MAIN]", "")
		line = strings.ReplaceAll(line, "[REPLY]", "")
		tweet := Clean(strings.TrimSpace(line))
		if len([]rune(tweet)) > minLen {
			out = append(out, tweet)
		}
	}
	return out
}

// Clean removes numbering labels and markdown emphasis, collapses
// whitespace and cuts the text to MaxLen at a word boundary.
func Clean(tweet string) string {
	tweet = reLabel.ReplaceAllString(tweet, "")
	tweet = reBold.ReplaceAllString(tweet, "$1")
	tweet = reItalic.ReplaceAllString(tweet, "$1")
	tweet = strings.TrimSpace(reSpace.ReplaceAllString(tweet, " "))

	r := []rune(tweet)
	if len(r) <= MaxLen {
		return tweet
	}
	head := r[:MaxLen-3]
	cut := len(head)
	for i := len(head) - 1; i >= 0; i-- {
		if head[i] == ' ' {
			cut = i
			break
		}
	}
	return string(r[:cut]) + "..."
}
