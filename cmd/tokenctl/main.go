// Command tokenctl acquires platform access tokens from the command line and
// inspects a running tenant-token-bridge service.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	zerolog.DefaultContextLogger = &log.Logger

	if err := NewRootCommand(version).Execute(); err != nil {
		os.Exit(1)
	}
}
