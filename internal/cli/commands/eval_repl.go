package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/pkg/core"
)

const evalPrompt = "leapcalc> "

func runEvalREPL(cmd *cobra.Command, sess *evalSession) error {
	cfg := getConfig()

	// Setup history file (project-local)
	historyFile := ""
	if cfg.ProjectRoot != "" {
		historyDir := filepath.Join(cfg.ProjectRoot, ".leapcalc")
		if err := os.MkdirAll(historyDir, 0o750); err == nil {
			historyFile = filepath.Join(historyDir, "eval_history")
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          evalPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newFieldCompleter(sess),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	// The session renders plain text regardless of the configured output mode.
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.ModeText)

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leapcalc eval (template: %s)\n", sess.schema.Name())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type an expression, .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if quit := sess.handleLine(r, line); quit {
			break
		}
	}
	return nil
}

// handleLine runs one REPL line and reports whether the session should end.
func (s *evalSession) handleLine(r *output.Renderer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ".") {
		return s.handleDotCommand(r, line)
	}

	v, err := s.eval(line)
	if err != nil {
		r.Error(err.Error())
		return false
	}
	r.Println(r.Styles().Number.Render(v.String()))
	return false
}

func (s *evalSession) handleDotCommand(r *output.Renderer, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printEvalHelp(r.Writer())

	case ".fields", ".show":
		if err := s.show(r); err != nil {
			r.Error(err.Error())
		}

	case ".formula":
		if len(parts) < 2 {
			r.Warning("Usage: .formula <field>")
			return false
		}
		text, ok := s.schema.Formula(core.FieldKey(parts[1]))
		if !ok {
			r.Warning(fmt.Sprintf("%s is not a computed field", parts[1]))
			return false
		}
		r.Println(text)

	case ".set":
		if len(parts) < 3 {
			r.Warning("Usage: .set <field> <value>")
			return false
		}
		if err := s.set(parts[1], parts[2]); err != nil {
			r.Error(err.Error())
			return false
		}
		s.recompute()
		if !s.result.Success {
			for _, e := range s.result.Errors {
				r.Error(e.Error())
			}
			return false
		}
		r.Success(fmt.Sprintf("%s = %s", parts[1], parts[2]))

	default:
		r.Warning(fmt.Sprintf("Unknown command: %s (type .help for commands)", command))
	}
	return false
}

func printEvalHelp(w io.Writer) {
	help := `
Commands:
  .help                 Show this help message
  .fields / .show       Show every field of the entity
  .formula <field>      Show the formula of a computed field
  .set <field> <value>  Change an input and recompute
  .quit / .exit         Exit the REPL

Tips:
  - Any other line is evaluated as a formula, e.g. total - total_real
  - Aggregates read the children and siblings loaded with --file
  - Tab completion works for field names
`
	_, _ = fmt.Fprintln(w, help)
}

// newFieldCompleter completes dot-commands and field names.
func newFieldCompleter(s *evalSession) *readline.PrefixCompleter {
	fields := make([]readline.PrefixCompleterInterface, 0, s.schema.Len())
	for _, k := range s.schema.Keys() {
		fields = append(fields, readline.PcItem(string(k)))
	}

	items := make([]readline.PrefixCompleterInterface, 0, len(fields)+6)
	items = append(items, fields...)
	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".fields"),
		readline.PcItem(".show"),
		readline.PcItem(".formula", fields...),
		readline.PcItem(".set", fields...),
		readline.PcItem(".quit"),
	)
	return readline.NewPrefixCompleter(items...)
}
