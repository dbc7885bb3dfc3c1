package collab

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// TerminalConfirmer asks the operator on the terminal. Every call asks
// again; answers are never cached between invocations.
type TerminalConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalConfirmer creates a confirmer reading from in and
// prompting on out
func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Confirm prompts and reads one line; only "y" or "yes" approve
func (c *TerminalConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(c.out, "%s [y/N]: ", prompt)

	answer, err := c.in.ReadString('\n')
	if err != nil && answer == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// AutoApprove confirms everything without asking, for --yes runs and
// server mode
type AutoApprove struct{}

// Confirm always approves
func (AutoApprove) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Ensure both implement the confirmation contract
var (
	_ interfaces.ConfirmationProvider = (*TerminalConfirmer)(nil)
	_ interfaces.ConfirmationProvider = AutoApprove{}
)
