package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"podcastrag/internal/domain"
	"podcastrag/internal/textutil"
)

// AnswerStream is an answer arriving incrementally.
type AnswerStream interface {
	Tokens() <-chan string
	Sources() []domain.RetrievalCandidate
	Wait() (string, error)
	Cancel()
}

// Asker is the TUI-facing subset of the query service.
type Asker interface {
	Ask(ctx context.Context, question string) (AnswerStream, error)
	Clear()
}

type turn struct {
	user bool
	text string
}

// Model is the Bubble Tea model for the chat.
type Model struct {
	ctx      context.Context
	asker    Asker
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	turns       []turn
	partial     string
	stream      AnswerStream
	sources     []domain.RetrievalCandidate
	cursor      int
	showSources bool
	lastQuery   string

	title  string
	status string
	width  int
	ready  bool
}

type streamStartedMsg struct{ stream AnswerStream }
type tokenMsg string
type streamEndMsg struct {
	answer string
	err    error
}
type askErrMsg struct{ err error }

// New creates the chat model. title is shown in the header.
func New(ctx context.Context, asker Asker, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the podcast (/clear, /sources, /quit)"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:         ctx,
		asker:       asker,
		input:       ti,
		viewport:    viewport.New(0, 0),
		spinner:     sp,
		showSources: true,
		title:       title,
		status:      "Ready.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles keys, window changes and stream progress.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, qh := queryBoxStyle.GetFrameSize()
		_, th := transcriptBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 + th // header, status, input box, input line, transcript frame
		if m.showSources {
			reserved += sourcesHeight
		}
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil

	case streamStartedMsg:
		m.stream = msg.stream
		m.sources = msg.stream.Sources()
		m.cursor = 0
		m.status = fmt.Sprintf("Answering from %d excerpt(s)...", len(m.sources))
		m.refresh()
		return m, waitForToken(msg.stream)

	case tokenMsg:
		m.partial += string(msg)
		m.refresh()
		return m, waitForToken(m.stream)

	case streamEndMsg:
		m.stream = nil
		switch {
		case msg.err == nil:
			m.turns = append(m.turns, turn{text: msg.answer})
			m.status = "Ready."
		case m.partial != "":
			m.turns = append(m.turns, turn{text: m.partial + " [interrupted]"})
			m.status = "Stopped: " + msg.err.Error()
		default:
			m.status = "Error: " + msg.err.Error()
		}
		m.partial = ""
		m.refresh()
		return m, nil

	case askErrMsg:
		m.stream = nil
		m.status = "Error: " + msg.err.Error()
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.stream == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.stream != nil {
				m.stream.Cancel()
				m.status = "Cancelling..."
				return m, nil
			}
			if msg.Type == tea.KeyCtrlC {
				return m, tea.Quit
			}
		case tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyDown:
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				return m, nil
			}
		case tea.KeyUp:
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.stream != nil {
		return m, nil
	}
	m.input.SetValue("")
	switch q {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/clear":
		m.asker.Clear()
		m.turns = nil
		m.sources = nil
		m.status = "Conversation cleared."
		m.refresh()
		return m, nil
	case "/sources":
		m.showSources = !m.showSources
		return m, nil
	}

	m.turns = append(m.turns, turn{user: true, text: q})
	m.lastQuery = q
	m.status = "Searching..."
	m.refresh()
	return m, tea.Batch(m.ask(q), m.spinner.Tick)
}

func (m Model) ask(q string) tea.Cmd {
	ctx, asker := m.ctx, m.asker
	return func() tea.Msg {
		st, err := asker.Ask(ctx, q)
		if err != nil {
			return askErrMsg{err: err}
		}
		return streamStartedMsg{stream: st}
	}
}

func waitForToken(st AnswerStream) tea.Cmd {
	return func() tea.Msg {
		tok, ok := <-st.Tokens()
		if !ok {
			answer, err := st.Wait()
			return streamEndMsg{answer: answer, err: err}
		}
		return tokenMsg(tok)
	}
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the header, transcript, sources pane, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render(m.title)
	parts := []string{header, transcriptBoxStyle.Render(m.viewport.View())}
	if m.showSources {
		parts = append(parts, m.renderSources())
	}
	status := m.status
	if m.stream != nil {
		status = m.spinner.View() + " " + status
	}
	parts = append(parts, queryBoxStyle.Render(m.input.View()), statusStyle.Render(status))
	return strings.Join(parts, "\n")
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 && m.partial == "" {
		return dimStyle.Render("Ask about the guests, their views and their advice.")
	}
	width := max(20, m.viewport.Width-2)
	var b strings.Builder
	for _, t := range m.turns {
		b.WriteString(renderTurn(t, width))
		b.WriteString("\n\n")
	}
	if m.partial != "" {
		b.WriteString(renderTurn(turn{text: m.partial}, width))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTurn(t turn, width int) string {
	label, style := assistantLabel, assistantStyle
	if t.user {
		label, style = userLabel, userStyle
	}
	return style.Render(label) + "\n" + lipgloss.NewStyle().Width(width).Render(t.text)
}

func (m Model) renderSources() string {
	if len(m.sources) == 0 {
		return dimStyle.Render("No sources yet.")
	}
	c := m.sources[m.cursor]
	title := fmt.Sprintf("Source %d/%d  %s  score=%.3f", m.cursor+1, len(m.sources), c.Chunk.Guest, c.Score)
	if c.IsPreferred {
		title += "  (follow-up)"
	}
	body := textutil.Truncate(c.Chunk.Text, 240)
	body = highlightBestSentence(body, m.lastQuery)
	return sourcesBoxStyle.Width(max(20, m.width-2)).Render(title + "\n" + body)
}

const sourcesHeight = 6

var (
	headerStyle        = lipgloss.NewStyle().Bold(true)
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sourcesBoxStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1).MaxHeight(sourcesHeight)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

const (
	userLabel      = "You"
	assistantLabel = "Podcast"
)

// highlightBestSentence emphasises the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := textutil.TokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := overlap(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	out := make([]string, len(sentences))
	for i, s := range sentences {
		s = strings.TrimSpace(s)
		if i == bestIdx {
			s = highlightStyle.Render(s)
		}
		out[i] = s
	}
	return strings.Join(out, " ")
}

func overlap(query map[string]struct{}, sentence string) int {
	score := 0
	for tok := range textutil.TokenSet(sentence) {
		if _, ok := query[tok]; ok {
			score++
		}
	}
	return score
}
