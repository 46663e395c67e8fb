package reasoner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/orcerr"
)

const (
	// DefaultMaxParseErrors is how many malformed stream lines are
	// tolerated before the run fails.
	DefaultMaxParseErrors = 25

	stderrTailBytes = 2048
	maxLineBytes    = 4 * 1024 * 1024
)

// Subprocess drives an external reasoning CLI. The prompt is written to
// stdin; stdout is parsed incrementally as JSON Lines.
type Subprocess struct {
	Argv           []string
	Timeout        time.Duration
	MaxParseErrors int
}

// NewSubprocess builds a subprocess reasoner from an argv slice.
func NewSubprocess(argv []string, timeout time.Duration) *Subprocess {
	return &Subprocess{
		Argv:           argv,
		Timeout:        timeout,
		MaxParseErrors: DefaultMaxParseErrors,
	}
}

// Run invokes the configured command, feeds it the prompt and returns
// the consolidated response text.
func (s *Subprocess) Run(ctx context.Context, prompt string) (string, error) {
	if len(s.Argv) == 0 {
		return "", &orcerr.ExternalProcessError{Op: "spawn", Err: errors.New("no command configured")}
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	cmd.Stdin = strings.NewReader(prompt)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &orcerr.ExternalProcessError{Op: "spawn", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return "", &orcerr.ExternalProcessError{Op: "spawn", Err: err}
	}

	text, parseErr := parseStream(stdout, s.maxParseErrors())
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return "", &orcerr.ExternalProcessError{Op: "run", Err: ctx.Err()}
	}
	if parseErr != nil {
		return "", &orcerr.ExternalProcessError{Op: "parse", Err: parseErr}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return "", &orcerr.ExternalProcessError{
				Op:  "run",
				Err: fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), stderrTail(&stderr)),
			}
		}
		return "", &orcerr.ExternalProcessError{Op: "run", Err: waitErr}
	}
	if strings.TrimSpace(text) == "" {
		return "", &orcerr.ExternalProcessError{Op: "run", Err: errors.New("no output")}
	}
	return text, nil
}

func (s *Subprocess) maxParseErrors() int {
	if s.MaxParseErrors > 0 {
		return s.MaxParseErrors
	}
	return DefaultMaxParseErrors
}

// envelope is one JSON Lines record from the stream. "assistant" records
// contribute their text blocks in order; a "result" record's non-empty
// result string replaces the accumulation. Unknown types are skipped.
type envelope struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func parseStream(r io.Reader, maxParseErrors int) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var acc strings.Builder
	var result string
	parseErrors := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			parseErrors++
			slog.Warn("reasoner: skipping malformed stream line", "error", err, "count", parseErrors)
			if parseErrors > maxParseErrors {
				return "", fmt.Errorf("stream exceeded %d malformed lines", maxParseErrors)
			}
			continue
		}
		switch env.Type {
		case "assistant":
			for _, block := range env.Message.Content {
				if block.Type == "text" {
					acc.WriteString(block.Text)
				}
			}
		case "result":
			if strings.TrimSpace(env.Result) != "" {
				result = env.Result
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	if result != "" {
		return result, nil
	}
	return acc.String(), nil
}

func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	if s == "" {
		return "(no stderr)"
	}
	return s
}
