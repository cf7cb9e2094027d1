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

var attachExec string

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach [host:port]",
	Short: "attach to a remote stub and start an interactive session",
	Long:  `attach to a remote stub and start an interactive session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := viper.GetString("remote")
		if len(args) == 1 {
			addr = args[0]
		}
		if addr == "" {
			return errors.New("no stub address (pass host:port or set `remote` in config)")
		}
		if attachExec == "" {
			return errors.New("no firmware ELF (pass --exec)")
		}

		t, err := target.AttachRemote(addr, attachExec)
		if err != nil {
			return err
		}
		target.Attached = t
		return nil
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		debug.CurrentSession = debug.NewDebugSession().AtExit(debug.Cleanup)
		debug.CurrentSession.Start()
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachExec, "exec", "", "firmware ELF with symbols and DWARF info")
	rootCmd.AddCommand(attachCmd)
}
