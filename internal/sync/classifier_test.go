// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import "testing"

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier("@ai")

	tests := []struct {
		text         string
		videoLoaded  bool
		wantDirected bool
		wantReason   string
		wantQuestion string
	}{
		{text: "@ai who is the guy in red", wantDirected: true, wantReason: ReasonMention, wantQuestion: "who is the guy in red"},
		{text: "hey @AI, thoughts?", wantDirected: true, wantReason: ReasonMention, wantQuestion: "hey , thoughts?"},
		{text: "@ai", wantDirected: true, wantReason: ReasonMention},
		{text: "ping me at bob@aim.com later", wantDirected: false},
		{text: "mail bob@ai.com tonight", wantDirected: false},
		{text: "@aim is a good brand", wantDirected: false},
		{text: "what happens at 2:30?", wantDirected: true, wantReason: ReasonInterrogative},
		{text: "Why did she leave", wantDirected: true, wantReason: ReasonInterrogative},
		{text: "can you explain the ending", wantDirected: true, wantReason: ReasonInterrogative},
		{text: "tell me more", wantDirected: true, wantReason: ReasonInterrogative},
		{text: "this scene is wild", videoLoaded: true, wantDirected: true, wantReason: ReasonVideo},
		{text: "this scene is wild", videoLoaded: false, wantDirected: false},
		{text: "lol", videoLoaded: true, wantDirected: false},
		{text: "somewhat boring", wantDirected: false},
		{text: "i'll grab snacks", videoLoaded: true, wantDirected: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := c.Classify(tt.text, tt.videoLoaded)
			if got.Directed != tt.wantDirected {
				t.Fatalf("Classify(%q).Directed = %v, want %v", tt.text, got.Directed, tt.wantDirected)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Classify(%q).Reason = %q, want %q", tt.text, got.Reason, tt.wantReason)
			}
			if tt.wantQuestion != "" && got.Question != tt.wantQuestion {
				t.Errorf("Classify(%q).Question = %q, want %q", tt.text, got.Question, tt.wantQuestion)
			}
		})
	}
}

func TestClassifier_NoMentionToken(t *testing.T) {
	c := NewClassifier("")
	if got := c.Classify("@ai hello there", true); got.Directed {
		t.Errorf("Classify() = %+v, want chat", got)
	}
}
