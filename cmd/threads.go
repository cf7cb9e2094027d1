/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"

	"github.com/deftsp/chibios-gdb/cmd/debug"
	"github.com/deftsp/chibios-gdb/pkg/target"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var threadsExec string

// threadsCmd represents the threads command: one-shot report, no session
var threadsCmd = &cobra.Command{
	Use:   "threads [host:port]",
	Short: "print the thread registry once and exit",
	Long:  `print the thread registry once and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := viper.GetString("remote")
		if len(args) == 1 {
			addr = args[0]
		}
		if addr == "" {
			return errors.New("no stub address (pass host:port or set `remote` in config)")
		}
		if threadsExec == "" {
			return errors.New("no firmware ELF (pass --exec)")
		}

		t, err := target.AttachRemote(addr, threadsExec)
		if err != nil {
			return err
		}
		defer t.Detach()

		return debug.ThreadsReport(t)
	},
}

func init() {
	threadsCmd.Flags().StringVar(&threadsExec, "exec", "", "firmware ELF with symbols and DWARF info")
	rootCmd.AddCommand(threadsCmd)
}
