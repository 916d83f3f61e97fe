package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobe/internal/cli/command"
	httpclient "jobe/internal/cli/http"
	"jobe/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "jobe> "

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	files      *state.Files
	statePath  string
	prettyJSON bool
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, files *state.Files, statePath string, prettyJSON bool, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		files:      files,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        out,
	}
}

// Run reads lines until exit, EOF or an interrupt on an empty line.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		quit, err := s.Execute(ctx, line)
		if err != nil {
			s.printLine("error: %v", err)
		}
		if quit {
			return nil
		}
	}
}

// Execute handles one input line. It reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if quit, handled := s.handleSystemCommand(line); handled {
		return quit, nil
	}
	return false, s.handleCommand(ctx, line)
}

func (s *Session) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("key")),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("files")),
	}
	for name := range s.commands {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) handleSystemCommand(line string) (quit bool, handled bool) {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return true, true
	case "help":
		s.printHelp()
		return false, true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return false, true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return false, true
	}
	return false, false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|key")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080/jobe/index.php/restapi")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", s.client.BaseURL())
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 60s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil || dur <= 0 {
			s.printLine("invalid duration: %s", parts[1])
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "key":
		if len(parts) < 2 {
			s.client.SetAPIKey("")
			s.printLine("api key cleared")
			return
		}
		s.client.SetAPIKey(parts[1])
		s.printLine("api key updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("timeout: %s", s.client.Timeout())
		s.printLine("statePath: %s", s.statePath)
	case "files":
		uploads := s.files.List()
		if len(uploads) == 0 {
			s.printLine("no uploaded files")
			return
		}
		for _, u := range uploads {
			s.printLine("%s  %s  %s", u.ID, u.UploadedAt.Format(time.RFC3339), u.Path)
		}
	default:
		s.printLine("usage: show config|files")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
	params, err := command.Parse(cmd, tokens[1:])
	if err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.updateFiles(cmd, params, resp)
	return nil
}

func (s *Session) updateFiles(cmd command.Command, params command.Params, resp httpclient.ResponseInfo) {
	id := params.Get("id")
	switch {
	case cmd.Name == "put" && resp.StatusCode == http.StatusNoContent:
		s.printLine("file id: %s", id)
		s.files.Record(id, params.Get("file"), time.Now())
	case cmd.Name == "check" && resp.StatusCode == http.StatusNotFound:
		if _, ok := s.files.Uploads[id]; !ok {
			return
		}
		s.files.Forget(id)
	default:
		return
	}
	if err := state.Save(s.statePath, *s.files); err != nil {
		s.printLine("save file state failed: %v", err)
	}
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	for _, name := range []string{"languages", "run", "put", "check"} {
		if cmd, ok := s.commands[name]; ok {
			s.printLine("  %s", cmd.Usage)
		}
	}
	s.printLine("system: help | exit | set base|timeout|key | show config|files")
	s.printLine("examples:")
	s.printLine("  run c ./hello.c input=./hello.in")
	s.printLine("  put ./data.txt")
	s.printLine("  run python3 ./main.py files=5d41402abc4b2a76b9719d911017c592:data.txt")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
