package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/KaramelBytes/edaloom/internal/app"
	"github.com/KaramelBytes/edaloom/internal/chat"
	"github.com/KaramelBytes/edaloom/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	chatEntry  string
	chatExport string
)

var chatCmd = &cobra.Command{
	Use:   "chat <file>",
	Short: "Analyze a CSV or ZIP file in the terminal",
	Long: `Load a dataset, print the initial analysis and answer follow-up questions.

Type a question, or the number of a suggested question. Commands:
  /export [path]  write the conversation as a standalone HTML file
  /clear          start a fresh analysis of the same file
  /quit           leave

With --export the initial analysis is written to the given path and the
command exits without prompting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(zap.WarnLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		a, providerName, err := newApp(c, log)
		if err != nil {
			return err
		}
		s := &chatSession{
			app:      a,
			path:     args[0],
			entry:    chatEntry,
			provider: providerName,
			model:    c.ResolveModel(),
			exportTo: c.ExportDir,
			in:       bufio.NewScanner(cmd.InOrStdin()),
			out:      cmd.OutOrStdout(),
			printer:  newTermPrinter(cmd.OutOrStdout(), 0),
		}
		if err := s.load(); err != nil {
			return err
		}
		if chatExport != "" {
			return s.export(chatExport)
		}
		return s.loop()
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatEntry, "entry", "", "CSV entry to analyze when the file is a ZIP archive")
	chatCmd.Flags().StringVar(&chatExport, "export", "", "write the initial analysis to this HTML file and exit")
}

type chatSession struct {
	app      *app.App
	path     string
	entry    string
	provider string
	model    string
	exportTo string

	in      *bufio.Scanner
	out     io.Writer
	printer *termPrinter
	// printed counts the conversation messages already shown.
	printed int
}

// interruptible runs fn under a context that Ctrl-C cancels, so an
// interrupt aborts the request in flight and not the session.
func interruptible(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}

// load opens the file and runs the initial analysis, asking for an archive
// entry when needed. Load failures end the command; a failed analysis is
// shown and can be retried with /clear.
func (s *chatSession) load() error {
	s.printed = 0
	fmt.Fprintf(s.out, "%s %s\n", titleStyle.Render("EDALoom"), dimStyle.Render(fmt.Sprintf("(%s · %s)", s.provider, s.model)))
	fmt.Fprintf(s.out, "… loading %s\n", s.path)
	err := interruptible(func(ctx context.Context) error { return s.app.Open(ctx, s.path) })
	if err == nil {
		if st := s.app.Snapshot(); len(st.Pending) > 0 {
			name, perr := s.pickEntry(st.Archive, st.Pending)
			if perr != nil {
				return perr
			}
			fmt.Fprintf(s.out, "… analyzing %s\n", name)
			err = interruptible(func(ctx context.Context) error { return s.app.SelectEntry(ctx, name) })
		}
	}
	if s.app.Dataset() == nil {
		s.flush()
		if err == nil {
			err = app.ErrNoDataset
		}
		return err
	}
	if meta := s.app.Snapshot().Dataset; meta != nil {
		fmt.Fprintln(s.out, dimStyle.Render(fmt.Sprintf("%s · %d rows · %d columns", meta.Filename, meta.RowCount, meta.ColumnCount)))
	}
	s.flush()
	if err != nil {
		s.hint(err)
		fmt.Fprintln(s.out, "⚠ The analysis did not start. Use /clear to retry.")
	}
	return nil
}

func (s *chatSession) pickEntry(archive string, entries []string) (string, error) {
	if s.entry != "" {
		return s.entry, nil
	}
	fmt.Fprintf(s.out, "%s holds several CSV files:\n", archive)
	for i, e := range entries {
		fmt.Fprintf(s.out, "  %d) %s\n", i+1, e)
	}
	for {
		fmt.Fprint(s.out, "Choose a file: ")
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return "", fmt.Errorf("read choice: %w", err)
			}
			return "", errors.New("no archive entry chosen")
		}
		choice := strings.TrimSpace(s.in.Text())
		if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(entries) {
			return entries[n-1], nil
		}
		for _, e := range entries {
			if e == choice {
				return e, nil
			}
		}
		fmt.Fprintln(s.out, "⚠ Enter a number from the list or an entry name.")
	}
}

func (s *chatSession) loop() error {
	for {
		fmt.Fprint(s.out, "\n> ")
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			if err := s.load(); err != nil {
				return err
			}
		case line == "/export" || strings.HasPrefix(line, "/export "):
			if err := s.export(strings.TrimSpace(strings.TrimPrefix(line, "/export"))); err != nil {
				fmt.Fprintf(s.out, "✗ %v\n", err)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(s.out, "⚠ Unknown command %s (use /export, /clear or /quit)\n", line)
		default:
			s.ask(s.resolveSuggestion(line))
		}
	}
}

// resolveSuggestion maps "2" to the second suggested question.
func (s *chatSession) resolveSuggestion(line string) string {
	n, err := strconv.Atoi(line)
	if err != nil {
		return line
	}
	qs := s.app.Snapshot().Conversation.Suggestions
	if n >= 1 && n <= len(qs) {
		return qs[n-1]
	}
	return line
}

func (s *chatSession) ask(prompt string) {
	fmt.Fprintln(s.out, dimStyle.Render("… thinking (Ctrl-C cancels)"))
	err := interruptible(func(ctx context.Context) error { return s.app.Ask(ctx, prompt) })
	switch {
	case errors.Is(err, app.ErrNoDataset):
		fmt.Fprintln(s.out, "⚠ No dataset is loaded. Use /clear to start again.")
		return
	case errors.Is(err, chat.ErrStaleResponse):
		return
	}
	s.flush()
	switch {
	case errors.Is(err, chat.ErrNoSession):
		fmt.Fprintln(s.out, "⚠ No analysis is running. Use /clear to start again.")
	case err != nil:
		s.hint(err)
	}
}

func (s *chatSession) export(path string) error {
	doc, err := s.app.Export(nil)
	if err != nil {
		return err
	}
	if path == "" {
		path = filepath.Join(s.exportTo, doc.Filename)
	}
	if err := utils.SafeWriteFile(path, doc.HTML); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(s.out, "✓ Exported analysis to %s\n", path)
	if doc.Charts > doc.Embedded {
		fmt.Fprintf(s.out, "⚠ %d chart(s) kept as specifications; export from the web UI to embed images\n", doc.Charts-doc.Embedded)
	}
	return nil
}

// flush prints the assistant messages added since the last call, then the
// current suggestions.
func (s *chatSession) flush() {
	conv := s.app.Snapshot().Conversation
	if s.printed > len(conv.Messages) {
		s.printed = len(conv.Messages)
	}
	for _, m := range conv.Messages[s.printed:] {
		if m.Role == chat.RoleUser {
			// Typed at the prompt.
			continue
		}
		if err := s.printer.Message(m); err != nil {
			fmt.Fprintf(s.out, "✗ %v\n", err)
		}
	}
	s.printed = len(conv.Messages)
	s.printer.Suggestions(conv.Suggestions)
}

func (s *chatSession) hint(err error) {
	if h := explainOracleError(err, s.provider, s.model); h != "" {
		fmt.Fprintln(s.out, "⚠ "+h)
	}
}
