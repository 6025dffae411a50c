package cli

import (
	"os"

	"golang.org/x/term"

	"github.com/lattice-run/procio"
)

// passthroughStdin forwards this process's own stdin to the child when
// stdin is an interactive terminal, putting it in raw mode for the
// duration so keystrokes (including control characters) reach the child
// unmodified. It returns a restore func that must run before exit.
func passthroughStdin(p *procio.Process) func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if werr := p.WriteStdin(chunk); werr != nil {
					return
				}
			}
			if err != nil {
				p.CloseStdin()
				return
			}
		}
	}()

	return func() { term.Restore(fd, oldState) }
}
