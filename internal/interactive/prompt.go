// Package interactive provides interactive prompts for user confirmation.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Response represents the user's response to a prompt.
type Response int

const (
	ResponseYes  Response = iota // Proceed
	ResponseNo                   // Decline this step
	ResponseQuit                 // Abort the command
)

func (r Response) String() string {
	switch r {
	case ResponseYes:
		return "yes"
	case ResponseNo:
		return "no"
	default:
		return "quit"
	}
}

// Prompter asks yes/no questions on a reader/writer pair.
type Prompter struct {
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner
}

// NewPrompter creates a prompter with stdin/stdout.
func NewPrompter() *Prompter {
	return NewPrompterWithIO(os.Stdin, os.Stdout)
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      in,
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// IsTerminal checks if stdin is a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// prompt displays a question and reads the response. End of input quits.
func (p *Prompter) prompt(format string, args ...any) Response {
	_, _ = fmt.Fprintf(p.out, format, args...)
	_, _ = fmt.Fprint(p.out, " [y/n/q] ")

	if !p.scanner.Scan() {
		return ResponseQuit
	}

	input := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
	switch input {
	case "y", "yes":
		return ResponseYes
	case "n", "no":
		return ResponseNo
	case "q", "quit":
		return ResponseQuit
	default:
		// Default to no for invalid input
		_, _ = fmt.Fprintln(p.out, "Invalid response, skipping.")
		return ResponseNo
	}
}

// Confirm asks a yes/no question and returns true only for yes.
func (p *Prompter) Confirm(format string, args ...any) bool {
	return p.prompt(format, args...) == ResponseYes
}

// ConfirmInstall describes the pending handoff and asks before launching the
// installer. A mandatory update is announced but still needs a yes.
func (p *Prompter) ConfirmInstall(version string, mandatory, relaunch bool, installer string) bool {
	_, _ = fmt.Fprintf(p.out, "\nUpdate %s is ready to install.\n", version)
	if mandatory {
		_, _ = fmt.Fprintln(p.out, "  This update is mandatory.")
	}
	_, _ = fmt.Fprintf(p.out, "  Installer: %s\n", installer)
	if relaunch {
		_, _ = fmt.Fprintln(p.out, "  The application will be restarted afterwards.")
	}

	switch p.prompt("Launch the installer now?") {
	case ResponseYes:
		return true
	case ResponseQuit:
		_, _ = fmt.Fprintln(p.out, "Aborted.")
	default:
		_, _ = fmt.Fprintln(p.out, "Install skipped.")
	}
	return false
}
