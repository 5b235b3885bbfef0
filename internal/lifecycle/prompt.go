package lifecycle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Confirmer answers yes/no questions guarding destructive actions.
type Confirmer interface {
	Confirm(question string) bool
}

// NewConfirmer builds the confirmer for the given flags. --assume-yes and
// --assume-no bind every answer up front; otherwise questions are asked
// interactively, and a session without a terminal gets the safe default: no.
func NewConfirmer(assumeYes, assumeNo bool) Confirmer {
	switch {
	case assumeNo:
		return fixedConfirmer(false)
	case assumeYes:
		return fixedConfirmer(true)
	default:
		return &interactiveConfirmer{
			in:  bufio.NewReader(os.Stdin),
			out: os.Stdout,
			isTTY: func() bool {
				return term.IsTerminal(int(os.Stdin.Fd()))
			},
		}
	}
}

type fixedConfirmer bool

func (f fixedConfirmer) Confirm(string) bool { return bool(f) }

type interactiveConfirmer struct {
	in    *bufio.Reader
	out   io.Writer
	isTTY func() bool
}

func (c *interactiveConfirmer) Confirm(question string) bool {
	if !c.isTTY() {
		fmt.Fprintf(c.out, "%s [y/N]: no (not an interactive session)\n", question)
		return false
	}

	fmt.Fprintf(c.out, "%s [y/N]: ", question)
	answer, err := c.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
