package debug

import (
	"errors"
	"fmt"
	"os"

	"github.com/deftsp/chibios-gdb/pkg/chibios"
	"github.com/deftsp/chibios-gdb/pkg/target"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "print the currently selected ChibiOS thread",
	Long: `Print information about the thread the stub currently has selected.
RTOS-aware stubs report ChibiOS thread ids that are the TCB addresses, so no
registry walk is needed.`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupRTOS,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		t := target.Attached

		layout, err := resolveLayout(t)
		if err != nil {
			return err
		}

		ex := chibios.NewExtractor(t, layout)
		ex.Fill = byte(viper.GetInt("fill-byte"))

		snap, err := chibios.SelectedThread(t, ex)
		if errors.Is(err, chibios.ErrNoThreadSelected) {
			fmt.Println("No threads found--run info threads first")
			return nil
		}
		if err != nil {
			return err
		}

		printReportHeader(os.Stdout)
		printReportRow(os.Stdout, snap)
		return nil
	},
}

func init() {
	chibiosCmd.AddCommand(threadCmd)
}
