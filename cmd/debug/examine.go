package debug

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/deftsp/chibios-gdb/pkg/target"
	"github.com/spf13/cobra"
)

var examineCmd = &cobra.Command{
	Use:     "x <addr> [len]",
	Short:   "dump raw target memory",
	Aliases: []string{"examine"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("usage: x <addr> [len]")
		}

		addr, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address format: %s", args[0])
		}

		length := uint64(64)
		if len(args) > 1 {
			length, err = strconv.ParseUint(args[1], 0, 64)
			if err != nil || length == 0 || length > 4096 {
				return fmt.Errorf("invalid length: %s", args[1])
			}
		}

		buf := make([]byte, length)
		n, err := target.Attached.ReadMemory(addr, buf)
		if err != nil {
			return err
		}

		for off := 0; off < n; off += 16 {
			end := off + 16
			if end > n {
				end = n
			}
			fmt.Printf("%#010x: % x\n", addr+uint64(off), buf[off:end])
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(examineCmd)
}
