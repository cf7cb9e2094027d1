package debug

import (
	"errors"
	"fmt"

	"github.com/deftsp/chibios-gdb/pkg/target"
	"github.com/spf13/cobra"
)

var symCmd = &cobra.Command{
	Use:   "sym <name>",
	Short: "resolve a firmware global to its address",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("need symbol name")
		}

		addr, err := target.Attached.BInfo.LookupSymbol(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s = %#x\n", args[0], addr)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(symCmd)
}
