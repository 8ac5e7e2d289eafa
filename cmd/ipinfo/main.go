// Command ipinfo looks up IP addresses against the ipinfo API from the shell.
package main

import (
	"os"

	"github.com/TomasB/ipgeo/internal/config"
)

func main() {
	if err := newRootCmd(config.DefaultViper()).Execute(); err != nil {
		os.Exit(1)
	}
}
