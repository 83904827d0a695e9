// Package prompt assembles retrieved excerpts into bounded generation context.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/textutil"
)

const (
	DefaultMaxContextChars = 3000
	noContext              = "No relevant context found."
	noSources              = "No sources."
)

// DefaultSystemPrompt is used when no prompt file is configured.
const DefaultSystemPrompt = `You are a well-read fan of the podcast who has listened to every episode and likes talking about the ideas in it. Be warm and a little playful, never forced.

This is a running conversation:
- Build on what was said in earlier turns instead of repeating it.
- When the user moves to a different guest, say so and follow them.
- If the excerpts do not mention the person the user asked about, say plainly that you have nothing from them in these excerpts.
- Never attribute an idea to the wrong guest.

Writing:
- Short paragraphs of two to four sentences, one idea each.
- Bold the key concepts. Use bullets for lists.
- Six to eight sentences in total.

Perspectives:
- Read every excerpt before answering.
- When guests disagree, show both sides. When they agree, say so.

Hard rules:
- Use only the excerpts supplied in the latest message.
- If they do not answer the question, say so first.
- Never invent content.`

// Builder turns ranked candidates into prompt text.
type Builder struct {
	maxChars int
}

func NewBuilder(maxContextChars int) *Builder {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Builder{maxChars: maxContextChars}
}

// BuildContext renders candidates in order until the character budget is reached.
// An oversized first excerpt is cut with "..."; later ones that do not fit are dropped.
func (b *Builder) BuildContext(candidates []domain.RetrievalCandidate) string {
	if len(candidates) == 0 {
		return noContext
	}
	parts := make([]string, 0, len(candidates))
	used := 0
	for i, c := range candidates {
		entry := fmt.Sprintf("[Source %d: %s - %s]\n%s\n", i+1, c.Chunk.Guest, c.Chunk.GuestExpertise, c.Chunk.Text)
		n := len([]rune(entry))
		if used+n > b.maxChars {
			if i == 0 {
				parts = append(parts, string([]rune(entry)[:b.maxChars-used])+"...\n")
			}
			break
		}
		parts = append(parts, entry)
		used += n
	}
	return strings.Join(parts, "\n")
}

// ContextNote is appended to the outgoing copy of a user turn to carry retrieved context.
func ContextNote(n int, context string) string {
	return fmt.Sprintf("\n\nHere are %d relevant moments from the podcast:\n\n%s", n, context)
}

// BuildUserPrompt is the single user message of a stateless request.
func BuildUserPrompt(question, context string, n int) string {
	parts := []string{
		fmt.Sprintf("Here are %d relevant moments from the podcast:\n\n", n),
		context,
		"\n",
		fmt.Sprintf("\nQuestion: %s\n", question),
	}
	return strings.Join(parts, "\n")
}

// SourcesSummary groups candidates by guest for display, in order of first appearance.
func SourcesSummary(candidates []domain.RetrievalCandidate) string {
	if len(candidates) == 0 {
		return noSources
	}
	type entry struct {
		expertise, url string
		count          int
	}
	var order []string
	byGuest := make(map[string]*entry)
	for _, c := range candidates {
		e, ok := byGuest[c.Chunk.Guest]
		if !ok {
			e = &entry{expertise: c.Chunk.GuestExpertise, url: c.Chunk.YouTubeURL}
			byGuest[c.Chunk.Guest] = e
			order = append(order, c.Chunk.Guest)
		}
		e.count++
	}
	lines := []string{"Sources:"}
	for _, g := range order {
		e := byGuest[g]
		lines = append(lines, fmt.Sprintf("  • %s (%s) - %d excerpt(s)", g, e.expertise, e.count))
		if e.url != "" {
			lines = append(lines, "    "+e.url)
		}
	}
	return strings.Join(lines, "\n")
}

// SystemPrompt returns the prompt stored at path, or DefaultSystemPrompt when path is empty.
func SystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		cerr := rerrors.NewConfigurationf("read system prompt %s", path)
		cerr.Err = err
		return "", cerr
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", rerrors.NewConfigurationf("system prompt %s is empty", path)
	}
	return text, nil
}

// ExtractKeywords returns the non-filler words of a question.
func ExtractKeywords(query string) []string {
	return textutil.Keywords(query)
}

// Topics returns up to n distinct episode themes from candidates, in order.
func Topics(candidates []domain.RetrievalCandidate, n int) []string {
	var themes []string
	for _, c := range candidates {
		themes = append(themes, c.Chunk.EpisodeThemes...)
	}
	themes = domain.UniqueStrings(themes)
	if len(themes) > n {
		themes = themes[:n]
	}
	return themes
}

// Guests returns the distinct guests of candidates, in order.
func Guests(candidates []domain.RetrievalCandidate) []string {
	guests := make([]string, 0, len(candidates))
	for _, c := range candidates {
		guests = append(guests, c.Chunk.Guest)
	}
	return domain.UniqueStrings(guests)
}
