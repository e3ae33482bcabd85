package commands

import (
	"fmt"
	"os"

	"github.com/moby/term"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lumeview/tagrunner/pkg/client"
)

var notRunningErr = fmt.Errorf("the tagrunner daemon is not running. Start it with `tagrunner serve` and try again")

func handleClientError(err error, message string) error {
	if errors.Is(err, client.ErrServiceUnavailable) {
		return notRunningErr
	}
	return fmt.Errorf("%s: %w", message, err)
}

// commandPrinter wraps a cobra.Command to implement client.StatusPrinter.
type commandPrinter struct {
	cmd *cobra.Command
}

func (cp *commandPrinter) Printf(format string, args ...any) {
	cp.cmd.Printf(format, args...)
}

func (cp *commandPrinter) Println(args ...any) {
	cp.cmd.Println(args...)
}

func (cp *commandPrinter) Write(p []byte) (n int, err error) {
	return cp.cmd.OutOrStdout().Write(p)
}

func (cp *commandPrinter) GetFdInfo() (fd uintptr, isTerminal bool) {
	out := cp.cmd.OutOrStdout()
	if file, ok := out.(*os.File); ok {
		return term.GetFdInfo(file)
	}
	return term.GetFdInfo(os.Stdout)
}

func asPrinter(cmd *cobra.Command) client.StatusPrinter {
	return &commandPrinter{cmd: cmd}
}
