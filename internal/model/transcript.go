package model

import (
	"strings"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerAgent  Speaker = "Agent"
	SpeakerCaller Speaker = "Caller"
)

// agentParties are raw party labels that denote the agent side of a call.
var agentParties = map[string]bool{
	"agent":          true,
	"rep":            true,
	"representative": true,
	"advisor":        true,
	"operator":       true,
	"staff":          true,
	"employee":       true,
}

// ParseSpeaker maps a raw party label to a Speaker. Anything that is not an
// agent label is treated as the caller.
func ParseSpeaker(raw string) Speaker {
	if agentParties[strings.ToLower(strings.TrimSpace(raw))] {
		return SpeakerAgent
	}
	return SpeakerCaller
}

// Turn is one utterance within a conversation.
type Turn struct {
	Speaker     Speaker       `json:"speaker"`
	Text        string        `json:"text"`
	StartOffset time.Duration `json:"start_offset"`
	EndOffset   time.Duration `json:"end_offset"`
}

// Conversation is one logical call transcript.
type Conversation struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`
}

// Render formats the conversation as speaker-prefixed lines for prompting.
func (c Conversation) Render() string {
	var b strings.Builder
	for i, t := range c.Turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Text))
	}
	return b.String()
}
