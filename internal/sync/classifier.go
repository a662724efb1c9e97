// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"regexp"
	"strings"
	"unicode"
)

// Reasons a message was classified as directed at the assistant.
const (
	ReasonMention       = "mention"
	ReasonInterrogative = "interrogative"
	ReasonVideo         = "video"
)

var interrogativeWords = map[string]bool{
	"what": true, "whats": true, "what's": true,
	"why": true, "how": true, "who": true, "whom": true, "whose": true,
	"when": true, "where": true, "which": true,
	"explain": true, "describe": true, "summarize": true, "summarise": true,
}

var interrogativePhrases = []string{
	"tell me",
	"can you",
	"could you",
	"do you know",
	"is it",
	"is this",
	"are they",
}

var videoWords = map[string]bool{
	"video": true, "scene": true, "clip": true, "frame": true,
	"moment": true, "timestamp": true, "shot": true, "footage": true,
	"episode": true, "happening": true, "happens": true, "happened": true,
	"shown": true, "showing": true, "character": true, "characters": true,
}

// Classification is the verdict on one outgoing chat message.
type Classification struct {
	Directed bool
	Reason   string
	// Question is the text with the mention token removed.
	Question string
}

// Classifier decides whether chat text is a question for the assistant.
type Classifier struct {
	mention *regexp.Regexp
}

// NewClassifier creates a classifier that treats mention as a direct
// address, for example "@ai". Matching ignores case. The token must stand
// alone: "bob@aim.com" does not mention "@ai".
func NewClassifier(mention string) *Classifier {
	c := &Classifier{}
	if mention = strings.TrimSpace(mention); mention != "" {
		c.mention = regexp.MustCompile(`(?i)(^|\s)` + regexp.QuoteMeta(mention) + `($|[^\p{L}\p{N}_])`)
	}
	return c
}

// Classify checks, in order, for the mention token, an interrogative
// keyword, and (only when a video is loaded) a video keyword.
func (c *Classifier) Classify(text string, videoLoaded bool) Classification {
	lower := strings.ToLower(text)
	out := Classification{Question: strings.TrimSpace(text)}

	if c.mention != nil && c.mention.MatchString(text) {
		out.Directed = true
		out.Reason = ReasonMention
		out.Question = strings.Join(strings.Fields(c.mention.ReplaceAllString(text, "${1} ${2}")), " ")
		return out
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, w := range words {
		if interrogativeWords[w] {
			out.Directed = true
			out.Reason = ReasonInterrogative
			return out
		}
	}
	padded := " " + strings.Join(words, " ") + " "
	for _, phrase := range interrogativePhrases {
		if strings.Contains(padded, " "+phrase+" ") {
			out.Directed = true
			out.Reason = ReasonInterrogative
			return out
		}
	}

	if videoLoaded {
		for _, w := range words {
			if videoWords[w] {
				out.Directed = true
				out.Reason = ReasonVideo
				return out
			}
		}
	}
	return out
}
