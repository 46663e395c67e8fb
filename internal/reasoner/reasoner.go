// Package reasoner abstracts the external reasoning process that
// executes one agent turn: prompt in, consolidated response text out.
package reasoner

import "context"

// Reasoner runs one turn. Implementations must honor ctx cancellation
// and return a non-empty response on success.
type Reasoner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// Echo is a fixed-function reasoner for tests and dry runs.
type Echo struct {
	// Reply is returned verbatim when set; otherwise a canned
	// acknowledgement is produced.
	Reply string
}

func (e *Echo) Run(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.Reply != "" {
		return e.Reply, nil
	}
	return "Acknowledged. (dry-run reasoner, no external process invoked)", nil
}
