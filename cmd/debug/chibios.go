package debug

import (
	"fmt"
	"io"

	"github.com/deftsp/chibios-gdb/pkg/chibios"
	"github.com/spf13/cobra"
)

// chibiosCmd is a pure namespace, the real work lives in its subcommands.
var chibiosCmd = &cobra.Command{
	Use:   "chibios <threads|thread>",
	Short: "ChibiOS/RT helper commands",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupRTOS,
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	debugRootCmd.AddCommand(chibiosCmd)
}

// report column layout, mirrors what gdb users expect from the classic
// ChibiOS helper scripts
func printReportHeader(w io.Writer) {
	fmt.Fprintf(w, "%-10s %-10s %-10s %6s %6s %-16s %-10s\n",
		"Address", "StkLimit", "Stack", "Free", "Total", "Name", "State")
}

func printReportRow(w io.Writer, s *chibios.Snapshot) {
	fmt.Fprintf(w, "%#10x %#10x %#10x %6d %6d %-16s %-10s\n",
		s.Address, s.StkLimit, s.StackTop, s.StackUnused, s.StackSize,
		s.Name, s.State)
}
