// Package conversation keeps the per-session turn history and the recently discussed guests and topics.
package conversation

import (
	"podcastrag/internal/domain"
)

const (
	DefaultMaxTurns = 20
	maxActiveGuests = 3
	maxRecentTopics = 5
)

// State is the history of one session. It is not safe for concurrent use;
// callers run at most one query per State at a time.
type State struct {
	maxTurns     int
	systemPrompt string
	turns        []domain.Message
	guests       []string
	topics       []string
}

func NewState(maxTurns int, systemPrompt string) *State {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &State{maxTurns: maxTurns, systemPrompt: systemPrompt}
}

func (s *State) MaxTurns() int { return s.maxTurns }

func (s *State) SystemPrompt() string { return s.systemPrompt }

func (s *State) SetSystemPrompt(prompt string) { s.systemPrompt = prompt }

func (s *State) AddUserTurn(text string) {
	s.turns = append(s.turns, domain.Message{Role: domain.RoleUser, Content: text})
	s.Trim()
}

func (s *State) AddAssistantTurn(text string) {
	s.turns = append(s.turns, domain.Message{Role: domain.RoleAssistant, Content: text})
	s.Trim()
}

// Trim drops the oldest turns beyond the configured maximum.
// The system prompt is not a turn and is never dropped.
func (s *State) Trim() {
	if over := len(s.turns) - s.maxTurns; over > 0 {
		kept := make([]domain.Message, s.maxTurns)
		copy(kept, s.turns[over:])
		s.turns = kept
	}
}

// Clear forgets turns, guests and topics. The system prompt stays.
func (s *State) Clear() {
	s.turns = nil
	s.guests = nil
	s.topics = nil
}

// Snapshot returns a copy of the context that later updates do not affect.
func (s *State) Snapshot() domain.ConversationContext {
	return domain.ConversationContext{
		ActiveGuests: append([]string(nil), s.guests...),
		RecentTopics: append([]string(nil), s.topics...),
	}
}

// UpdateContext records guests and topics as the most recently discussed,
// moving already known entries to the front.
func (s *State) UpdateContext(guests, topics []string) {
	for _, g := range guests {
		s.guests = moveToFront(s.guests, g, maxActiveGuests)
	}
	for _, t := range topics {
		s.topics = moveToFront(s.topics, t, maxRecentTopics)
	}
}

func moveToFront(list []string, item string, limit int) []string {
	if item == "" {
		return list
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, item)
	for _, existing := range list {
		if existing != item {
			out = append(out, existing)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActiveGuest is the most recently discussed guest, or "".
func (s *State) ActiveGuest() string {
	if len(s.guests) == 0 {
		return ""
	}
	return s.guests[0]
}

// Messages returns the system prompt, when set, followed by every turn.
// The slice is fresh and may be modified by the caller.
func (s *State) Messages() []domain.Message {
	out := make([]domain.Message, 0, len(s.turns)+1)
	if s.systemPrompt != "" {
		out = append(out, domain.Message{Role: domain.RoleSystem, Content: s.systemPrompt})
	}
	return append(out, s.turns...)
}

// History returns the turns without the system prompt.
func (s *State) History() []domain.Message {
	return append([]domain.Message(nil), s.turns...)
}

func (s *State) Len() int { return len(s.turns) }

// Restore replaces the state with previously persisted turns and context.
func (s *State) Restore(turns []domain.Message, ctx domain.ConversationContext) {
	s.turns = append([]domain.Message(nil), turns...)
	s.guests = nil
	s.topics = nil
	// Oldest first so the first entry ends up most recent.
	for i := len(ctx.ActiveGuests) - 1; i >= 0; i-- {
		s.guests = moveToFront(s.guests, ctx.ActiveGuests[i], maxActiveGuests)
	}
	for i := len(ctx.RecentTopics) - 1; i >= 0; i-- {
		s.topics = moveToFront(s.topics, ctx.RecentTopics[i], maxRecentTopics)
	}
	s.Trim()
}
