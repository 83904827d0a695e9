// Package preprocess decides whether a query depends on earlier turns, spots named guests
// and rewrites the query for retrieval.
package preprocess

import (
	"fmt"
	"regexp"
	"strings"

	"podcastrag/internal/config"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/textutil"
)

const (
	confidenceDefault  = 0.5
	confidenceFollowUp = 0.7
	confidenceExplicit = 0.9
)

// SpeakerPattern is one gazetteer entry. An empty Label means the match is title-cased.
type SpeakerPattern struct {
	Pattern string `yaml:"pattern"`
	Label   string `yaml:"label,omitempty"`
}

// Rules is the ordered configuration data the preprocessor runs on.
// Patterns are applied to the lower-cased query.
type Rules struct {
	FollowUpPatterns      []string         `yaml:"follow_up_patterns"`
	Speakers              []SpeakerPattern `yaml:"speakers"`
	ExemptPrefixes        []string         `yaml:"exempt_prefixes"`
	ShortQueryWords       int              `yaml:"short_query_words"`
	PronounPattern        string           `yaml:"pronoun_pattern"`
	VagueReferencePattern string           `yaml:"vague_reference_pattern"`
}

// DefaultRules covers the podcast's recurring guests and common follow-up phrasings.
func DefaultRules() Rules {
	return Rules{
		FollowUpPatterns: []string{
			`\b(he|she|they|his|her|their)\b`,
			`^(what about|how about|and|also|tell me more)`,
			`^(what does|what did|how does|how did)\s+\w+\s+(think|say|mention)`,
		},
		Speakers: []SpeakerPattern{
			{Pattern: `sam altman`},
			{Pattern: `vinod khosla`},
			{Pattern: `bill gates`},
			{Pattern: `nikhil kamath`},
			{Pattern: `dara khosrowshahi`},
			{Pattern: `nikesh arora`},
		},
		ExemptPrefixes:        []string{"who", "what is", "explain", "tell me about"},
		ShortQueryWords:       5,
		PronounPattern:        `\b(he|she|they|his|her|their)\b`,
		VagueReferencePattern: `what (does|did) \w+( \w+)? (think|say|mention)\W*$`,
	}
}

// RulesFromConfig overlays the configured lists on DefaultRules. Empty entries keep the default.
func RulesFromConfig(cfg config.PreprocessConfig) Rules {
	r := DefaultRules()
	if len(cfg.FollowUpPatterns) > 0 {
		r.FollowUpPatterns = cfg.FollowUpPatterns
	}
	if len(cfg.Speakers) > 0 {
		r.Speakers = make([]SpeakerPattern, 0, len(cfg.Speakers))
		for _, s := range cfg.Speakers {
			r.Speakers = append(r.Speakers, SpeakerPattern{Pattern: s.Pattern, Label: s.Label})
		}
	}
	if len(cfg.ExemptPrefixes) > 0 {
		r.ExemptPrefixes = cfg.ExemptPrefixes
	}
	if cfg.ShortQueryWords > 0 {
		r.ShortQueryWords = cfg.ShortQueryWords
	}
	return r
}

type speaker struct {
	re    *regexp.Regexp
	label string
}

type Preprocessor struct {
	followUps      []*regexp.Regexp
	speakers       []speaker
	exemptPrefixes []string
	shortWords     int
	pronoun        *regexp.Regexp
	vague          *regexp.Regexp
}

// New compiles the rules. A pattern that does not compile is a configuration error.
func New(rules Rules) (*Preprocessor, error) {
	p := &Preprocessor{
		exemptPrefixes: rules.ExemptPrefixes,
		shortWords:     rules.ShortQueryWords,
	}
	for _, pat := range rules.FollowUpPatterns {
		re, err := compile("follow-up pattern", pat)
		if err != nil {
			return nil, err
		}
		p.followUps = append(p.followUps, re)
	}
	for _, s := range rules.Speakers {
		re, err := compile("speaker pattern", s.Pattern)
		if err != nil {
			return nil, err
		}
		p.speakers = append(p.speakers, speaker{re: re, label: s.Label})
	}
	var err error
	if p.pronoun, err = compile("pronoun pattern", rules.PronounPattern); err != nil {
		return nil, err
	}
	if p.vague, err = compile("vague reference pattern", rules.VagueReferencePattern); err != nil {
		return nil, err
	}
	return p, nil
}

// MustDefault returns a Preprocessor over DefaultRules.
func MustDefault() *Preprocessor {
	p, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return p
}

func compile(kind, pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, rerrors.NewConfigurationf("empty %s", kind)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		cerr := rerrors.NewConfigurationf("invalid %s %q", kind, pattern)
		cerr.Err = err
		return nil, cerr
	}
	return re, nil
}

// Preprocess never fails: a query nothing matches comes back unchanged with default confidence.
// A nil or empty snapshot means there is no earlier turn to lean on.
func (p *Preprocessor) Preprocess(query string, snapshot *domain.ConversationContext) domain.ProcessedQuery {
	query = strings.TrimSpace(query)
	lower := strings.ToLower(query)

	out := domain.ProcessedQuery{
		Original:      query,
		Rewritten:     query,
		IsFollowUp:    p.IsFollowUp(lower),
		DetectedGuest: p.DetectGuest(lower),
		Confidence:    confidenceDefault,
	}

	if snapshot == nil || !snapshot.HasContext() {
		if out.DetectedGuest != "" {
			out.SuggestedGuest = out.DetectedGuest
			out.Confidence = confidenceExplicit
		}
		return out
	}

	switch {
	case out.DetectedGuest != "":
		out.SuggestedGuest = out.DetectedGuest
		out.Confidence = confidenceExplicit
	case out.IsFollowUp && len(snapshot.ActiveGuests) > 0:
		out.SuggestedGuest = snapshot.ActiveGuests[0]
		out.Confidence = confidenceFollowUp
	}
	out.Rewritten = p.rewrite(query, lower, snapshot)
	return out
}

// IsFollowUp reports whether a lower-cased query reads as depending on earlier turns.
func (p *Preprocessor) IsFollowUp(lower string) bool {
	for _, re := range p.followUps {
		if re.MatchString(lower) {
			return true
		}
	}
	if len(strings.Fields(lower)) > p.shortWords {
		return false
	}
	for _, prefix := range p.exemptPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

// DetectGuest returns the first gazetteer match, or "".
func (p *Preprocessor) DetectGuest(lower string) string {
	for _, s := range p.speakers {
		if m := s.re.FindString(lower); m != "" {
			if s.label != "" {
				return s.label
			}
			return textutil.TitleCase(m)
		}
	}
	return ""
}

func (p *Preprocessor) rewrite(query, lower string, snapshot *domain.ConversationContext) string {
	if len(snapshot.ActiveGuests) > 0 && p.pronoun.MatchString(lower) {
		return fmt.Sprintf("%s (in the context of %s)", query, snapshot.ActiveGuests[0])
	}
	if len(snapshot.RecentTopics) > 0 && p.vague.MatchString(lower) {
		return fmt.Sprintf("%s about %s", query, snapshot.RecentTopics[0])
	}
	return query
}
