package debug

import (
	"fmt"
	"os"

	"github.com/deftsp/chibios-gdb/pkg/target"
	"github.com/spf13/cobra"
)

var exitCmd = &cobra.Command{
	Use:     "exit",
	Short:   "end the session",
	Aliases: []string{"quit", "q"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupOthers,
	},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.Stop()
	},
}

func init() {
	debugRootCmd.AddCommand(exitCmd)
}

// Cleanup detaches from the stub when the session ends. The target is an
// attached board, we leave it running.
func Cleanup() {
	t := target.Attached
	if t == nil {
		return
	}
	if err := t.Detach(); err != nil {
		fmt.Fprintf(os.Stderr, "detach stub %s, err: %v\n", t.Addr, err)
		return
	}
	fmt.Fprintf(os.Stdout, "detached from %s, target left running\n", t.Addr)
}
