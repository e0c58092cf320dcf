package automation

import (
	"strings"
	"time"
)

// Event is what a trigger is matched against: one visitor message.
type Event struct {
	Content string
	Now     time.Time
	// MessageCount is the conversation's total message count, including
	// the message being evaluated. Negative means unknown.
	MessageCount int64
}

// Match reports whether the message contains any keyword, ignoring case.
// An empty keyword is skipped so it can't match every message; whitespace
// keywords are ordinary substrings.
func (c KeywordConditions) Match(ev Event) bool {
	message := strings.ToLower(ev.Content)
	for _, kw := range c.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(message, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (WelcomeConditions) Match(ev Event) bool {
	return ev.MessageCount == 1
}

func (c TimeBasedConditions) Match(ev Event) bool {
	hour := ev.Now.Hour()
	return hour >= c.StartHour && hour < c.EndHour
}

// Matches reports whether r should fire for ev. Rules whose conditions
// failed to decode never match.
func (r Rule) Matches(ev Event) bool {
	if r.Conditions == nil || !r.Type.Known() {
		return false
	}
	return r.Conditions.Match(ev)
}
