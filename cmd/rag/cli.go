package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/httpapi"
	"podcastrag/internal/mcpserver"
	"podcastrag/internal/prompt"
	"podcastrag/internal/service"
	"podcastrag/internal/session"
	"podcastrag/internal/tui"
	"podcastrag/internal/watcher"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "rag",
		Usage:   "Ask questions about podcast episodes",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"PODCASTRAG_CONFIG"}, Usage: "Path to YAML config (default ./config.yaml, then ~/.config/podcastrag/config.yaml)"},
		},
		Commands: []*cli.Command{
			ingestCmd(),
			askCmd(),
			chatCmd(),
			serveCmd(),
			mcpCmd(),
			watchCmd(),
			historyCmd(),
			clearCmd(),
			episodesCmd(),
		},
	}
	// Errors are returned to main instead of exiting inside Run.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// withEnv builds the components for one command and releases them afterwards.
func withEnv(mode logMode, action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := newEnv(c.Context, c.String("config"), mode)
		if err != nil {
			return outputError(err)
		}
		defer e.Close()
		if err := action(c, e); err != nil {
			return outputError(err)
		}
		return nil
	}
}

func ingestCmd() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Load episodes, summarize them and rebuild the index",
		ArgsUsage: "[episodes.json|dir]",
		Action: withEnv(logStderr, func(c *cli.Context, e *env) error {
			path := c.Args().First()
			if path == "" {
				path = e.cfg.Storage.EpisodesFile
			}
			report, err := e.ingestor.IngestPath(c.Context, path)
			if err != nil {
				return err
			}
			return outputJSON(c.App.Writer, report)
		}),
	}
}

func askCmd() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer one question",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "guest", Aliases: []string{"g"}, Usage: "Only use excerpts from this guest"},
			&cli.StringFlag{Name: "industry", Aliases: []string{"i"}, Usage: "Only use excerpts tagged with this industry"},
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "Number of excerpts (default from config)"},
			&cli.BoolFlag{Name: "no-diversity", Usage: "Rank by score only, without the per-guest cap"},
			&cli.BoolFlag{Name: "stateless", Usage: "Ignore the conversation"},
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Continue and update a stored session"},
			&cli.BoolFlag{Name: "json", Usage: "Print the full response as JSON"},
		},
		Action: withEnv(logStderr, func(c *cli.Context, e *env) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return rerrors.NewInvalidRequest("question is required")
			}
			id := c.String("session")
			if id != "" && !session.ValidID(id) {
				return rerrors.NewInvalidRequest(fmt.Sprintf("invalid session id %q", id))
			}
			if err := e.warm(c.Context); err != nil {
				return err
			}

			svc := e.newQueryService()
			if id != "" {
				if err := e.sessions.LoadInto(c.Context, id, svc.State()); err != nil {
					return err
				}
			}
			req := svc.DefaultRequest(question)
			if k := c.Int("top-k"); k > 0 {
				req.TopK = k
			}
			if c.Bool("no-diversity") {
				req.Diversity = false
			}
			req.GuestFilter = c.String("guest")
			req.IndustryFilter = c.String("industry")
			req.Stateless = c.Bool("stateless")

			out := c.App.Writer
			var err error
			if c.Bool("json") {
				var resp *service.Response
				if resp, err = svc.Answer(c.Context, req); err == nil {
					err = outputJSON(out, resp)
				}
			} else {
				err = streamAnswer(c.Context, out, svc, req)
			}
			if id != "" && (err == nil || rerrors.Is(err, rerrors.ErrGenerationFailure)) {
				if saveErr := e.sessions.SaveState(context.WithoutCancel(c.Context), id, svc.State()); saveErr != nil {
					e.log.Warn("save session failed", logrus.Fields{"session": id, "error": saveErr.Error()})
				}
			}
			return err
		}),
	}
}

// streamAnswer prints the answer as it arrives, then the sources.
func streamAnswer(ctx context.Context, w io.Writer, svc *service.QueryService, req service.Request) error {
	st, err := svc.Stream(ctx, req)
	if err != nil {
		return err
	}
	for tok := range st.Tokens() {
		fmt.Fprint(w, tok)
	}
	if _, err := st.Wait(); err != nil {
		fmt.Fprintln(w)
		return err
	}
	fmt.Fprintf(w, "\n\n%s\n", prompt.SourcesSummary(st.Sources()))
	return nil
}

func chatCmd() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Resume this session"},
			&cli.BoolFlag{Name: "resume", Aliases: []string{"r"}, Usage: "Resume the most recent session"},
		},
		Action: withEnv(logFileOnly, func(c *cli.Context, e *env) error {
			ctx := c.Context
			id, err := chatSessionID(ctx, e.sessions, c.String("session"), c.Bool("resume"))
			if err != nil {
				return err
			}
			if err := e.warm(ctx); err != nil {
				return err
			}

			svc := e.newQueryService()
			if err := e.sessions.LoadInto(ctx, id, svc.State()); err != nil {
				return err
			}
			asker := tui.ServiceAsker{
				Service: svc,
				AfterTurn: func() {
					if err := e.sessions.SaveState(context.WithoutCancel(ctx), id, svc.State()); err != nil {
						e.log.Warn("save session failed", logrus.Fields{"session": id, "error": err.Error()})
					}
				},
			}
			title := fmt.Sprintf("Podcast chat  %s  session %s", e.generator.Model(), id)
			e.log.Info("chat started", logrus.Fields{"session": id, "resumed": svc.State().Len() > 0})
			_, err = tea.NewProgram(tui.New(ctx, asker, title), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		}),
	}
}

// chatSessionID picks the session a chat continues: the one given, the latest when
// resuming, or a new one.
func chatSessionID(ctx context.Context, store *session.Store, id string, resume bool) (string, error) {
	if id != "" {
		if !session.ValidID(id) {
			return "", rerrors.NewInvalidRequest(fmt.Sprintf("invalid session id %q", id))
		}
		return id, nil
	}
	if resume {
		latest, err := store.Latest(ctx)
		if err != nil {
			return "", err
		}
		if latest != "" {
			return latest, nil
		}
	}
	return session.NewID(), nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Listen address (default from config)"},
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Re-ingest when the episodes file changes"},
		},
		Action: withEnv(logStderr, func(c *cli.Context, e *env) error {
			ctx := c.Context
			if err := e.warm(ctx); err != nil {
				return err
			}
			if c.Bool("watch") {
				w, err := newEpisodesWatcher(e, e.cfg.Storage.EpisodesFile, watcher.DefaultDebounce)
				if err != nil {
					return err
				}
				go func() {
					if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						e.log.Error("watcher stopped", logrus.Fields{"error": err.Error()})
					}
				}()
			}

			addr := c.String("addr")
			if addr == "" {
				addr = e.cfg.Server.Addr
			}
			srv := httpapi.New(httpapi.Deps{
				NewSession: e.newQueryService,
				Sessions:   e.sessions,
				Episodes:   e.episodes,
				Vectors:    e.vectors,
				Embedder:   e.embedder.Name(),
				Model:      e.generator.Model(),
				Logger:     e.log,
			})
			return srv.ListenAndServe(ctx, addr)
		}),
	}
}

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools on stdin and stdout",
		Action: withEnv(logFileOnly, func(c *cli.Context, e *env) error {
			if err := e.warm(c.Context); err != nil {
				return err
			}
			return mcpserver.Run(mcpserver.NewHandlers(e.newQueryService(), e.episodes, e.log), Version)
		}),
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Ingest, then re-ingest whenever the episodes change",
		ArgsUsage: "[episodes.json|dir]",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "debounce", Value: watcher.DefaultDebounce, Usage: "Quiet period before re-ingesting"},
		},
		Action: withEnv(logStderr, func(c *cli.Context, e *env) error {
			path := c.Args().First()
			if path == "" {
				path = e.cfg.Storage.EpisodesFile
			}
			report, err := e.ingestor.IngestPath(c.Context, path)
			if err != nil {
				return err
			}
			e.log.Info("ingest complete", logrus.Fields{"episodes": report.Episodes, "chunks": report.Chunks})

			w, err := newEpisodesWatcher(e, path, c.Duration("debounce"))
			if err != nil {
				return err
			}
			if err := w.Run(c.Context); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}),
	}
}

func newEpisodesWatcher(e *env, path string, debounce time.Duration) (*watcher.Watcher, error) {
	return watcher.New(path, debounce, func(ctx context.Context) error {
		_, err := e.ingestor.IngestPath(ctx, path)
		return err
	}, e.log)
}

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List stored sessions, or show the turns of one",
		ArgsUsage: "[session-id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum sessions to list"},
		},
		Action: withEnv(logStderr, func(c *cli.Context, e *env) error {
			if id := c.Args().First(); id != "" {
				sess, err := e.sessions.Load(c.Context, id)
				if err != nil {
					return err
				}
				return outputJSON(c.App.Writer, sess)
			}
			list, err := e.sessions.List(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			return outputJSON(c.App.Writer, map[string]any{"sessions": nonNilSlice(list)})
		}),
	}
}

func clearCmd() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Delete a stored session",
		ArgsUsage: "<session-id>",
		Action: withEnv(logStderr, func(c *cli.Context, e *env) error {
			id := c.Args().First()
			if id == "" {
				return rerrors.NewInvalidRequest("session id is required")
			}
			if err := e.sessions.Delete(c.Context, id); err != nil {
				return err
			}
			return outputJSON(c.App.Writer, map[string]string{"deleted": id})
		}),
	}
}

// episodeView is an episode without its transcript.
type episodeView struct {
	ID           string   `json:"id"`
	Guest        string   `json:"guest"`
	Expertise    string   `json:"guest_expertise,omitempty"`
	IndustryTags []string `json:"industry_tags,omitempty"`
	Date         string   `json:"date,omitempty"`
	Summary      string   `json:"summary,omitempty"`
}

func episodesCmd() *cli.Command {
	return &cli.Command{
		Name:  "episodes",
		Usage: "List ingested episodes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "guests", Usage: "List guests with their episode counts instead"},
		},
		Action: withEnv(logStderr, func(c *cli.Context, e *env) error {
			if c.Bool("guests") {
				guests, err := e.episodes.Guests(c.Context)
				if err != nil {
					return err
				}
				return outputJSON(c.App.Writer, map[string]any{"guests": nonNilSlice(guests)})
			}
			eps, err := e.episodes.ListEpisodes(c.Context)
			if err != nil {
				return err
			}
			views := make([]episodeView, 0, len(eps))
			for _, ep := range eps {
				views = append(views, episodeView{
					ID:           ep.ID,
					Guest:        ep.Guest,
					Expertise:    ep.GuestExpertise,
					IndustryTags: ep.IndustryTags,
					Date:         ep.Date,
					Summary:      ep.Summary,
				})
			}
			return outputJSON(c.App.Writer, map[string]any{"episodes": views})
		}),
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the terminal.
func outputError(err error) error {
	if rErr, ok := rerrors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", rErr.Code, rErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
