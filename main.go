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
package main

import (
	"os"
	"os/signal"

	"github.com/deftsp/chibios-gdb/cmd"
	"github.com/deftsp/chibios-gdb/pkg/target"
	"golang.org/x/sys/unix"
)

func main() {
	go processSignals()
	cmd.Execute()
}

func processSignals() {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, unix.SIGTERM, unix.SIGINT, unix.SIGQUIT)

	for range ch {
		// leave the remote stub in a usable state, otherwise OpenOCD
		// keeps the dead session attached
		if target.Attached != nil {
			target.Attached.Detach()
		}
		os.Exit(0)
	}
}
