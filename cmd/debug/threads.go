package debug

import (
	"fmt"
	"os"

	"github.com/deftsp/chibios-gdb/pkg/chibios"
	"github.com/deftsp/chibios-gdb/pkg/symbol"
	"github.com/deftsp/chibios-gdb/pkg/target"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// spellings across kernel versions: 2.x typedefs `Thread`, 3.x+ uses
// `thread_t` over `struct ch_thread`; same for the registry anchor
var (
	threadTypeNames   = []string{"Thread", "thread_t", "ch_thread"}
	anchorSymbolNames = []string{"rlist", "ch"}
)

var threadsCmd = &cobra.Command{
	Use:     "threads",
	Short:   "print all ChibiOS threads and their stack usage",
	Aliases: []string{"ts"},
	Long: `Print all the ChibiOS threads and their stack usage.

This will not work if ChibiOS was not compiled with, at a minimum,
CH_USE_REGISTRY. Additionally, CH_DBG_ENABLE_STACK_CHECK and
CH_DBG_FILL_THREADS are necessary to compute the used/free stack
for each thread.`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupRTOS,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return ThreadsReport(target.Attached)
	},
}

func init() {
	chibiosCmd.AddCommand(threadsCmd)
}

// resolveLayout runs the schema capability check against the firmware's
// thread struct and reports its advisories. Nothing is cached: every command
// invocation re-checks, so a re-flashed target never serves stale layouts.
func resolveLayout(t *target.RemoteTarget) (*chibios.Layout, error) {
	var (
		typ *symbol.StructType
		err error
	)
	for _, name := range threadTypeNames {
		if typ, err = t.BInfo.LookupStruct(name); err == nil {
			break
		}
	}
	if typ == nil {
		return nil, fmt.Errorf("no thread struct in %s (firmware built without -g?): %w",
			t.BInfo.Path, err)
	}

	layout, warnings, err := chibios.CheckSchema(typ, t.BInfo.Order, t.BInfo.PtrSize)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}
	return layout, nil
}

// ThreadsReport walks the registry and prints one row per live thread in
// encounter order. Rows stream as the walk goes, the way the gdb helper did:
// a corrupt list shows every thread extracted before the bad link, then the
// error.
func ThreadsReport(t *target.RemoteTarget) error {
	layout, err := resolveLayout(t)
	if err != nil {
		return err
	}

	anchor, err := t.BInfo.LookupAnySymbol(anchorSymbolNames...)
	if err != nil {
		return err
	}

	w := chibios.NewWalker(t, layout, anchor)
	if n := viper.GetInt("walk-cap"); n > 0 {
		w.MaxNodes = n
	}
	w.SetFill(byte(viper.GetInt("fill-byte")))

	printReportHeader(os.Stdout)
	for w.Next() {
		printReportRow(os.Stdout, w.Snapshot())
	}
	return w.Err()
}
