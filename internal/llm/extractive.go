package llm

import (
	"context"
	"regexp"
	"strings"

	"podcastrag/internal/domain"
)

// sourceHeader matches the "[Source n: guest - expertise]" lines of assembled context.
var sourceHeader = regexp.MustCompile(`(?m)^\[Source \d+: ([^\]]*)\]\s*$`)

// Extractive answers without a model: it summarizes the excerpts carried by the latest
// user message. It needs no network access and is used for offline runs and tests.
type Extractive struct {
	summarizer   domain.Summarizer
	maxSentences int
}

func NewExtractive(s domain.Summarizer, maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Extractive{summarizer: s, maxSentences: maxSentences}
}

func (e *Extractive) Model() string { return "extractive" }

func (e *Extractive) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	excerpts := excerptsOf(lastUserContent(messages))
	if len(excerpts) == 0 {
		return "I don't have anything from the podcast on that.", nil
	}
	var paragraphs []string
	for _, ex := range excerpts {
		summary, err := e.summarizer.Summarize(ex.text, e.maxSentences)
		if err != nil {
			return "", err
		}
		if summary == "" {
			continue
		}
		if ex.speaker != "" {
			summary = "**" + ex.speaker + "**: " + summary
		}
		paragraphs = append(paragraphs, summary)
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

// GenerateStream emits the Generate result word by word.
func (e *Extractive) GenerateStream(ctx context.Context, messages []domain.Message) (<-chan domain.StreamToken, error) {
	text, err := e.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	ch := make(chan domain.StreamToken)
	go func() {
		defer close(ch)
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			select {
			case ch <- domain.StreamToken{Content: w}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- domain.StreamToken{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

type excerpt struct {
	speaker string
	text    string
}

func lastUserContent(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// excerptsOf splits assembled context back into its sources.
func excerptsOf(content string) []excerpt {
	locs := sourceHeader.FindAllStringSubmatchIndex(content, -1)
	out := make([]excerpt, 0, len(locs))
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := content[loc[1]:end]
		if q := strings.Index(body, "\nQuestion:"); q >= 0 {
			body = body[:q]
		}
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		speaker, _, _ := strings.Cut(content[loc[2]:loc[3]], " - ")
		out = append(out, excerpt{speaker: strings.TrimSpace(speaker), text: body})
	}
	return out
}
