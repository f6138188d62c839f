// Command posbridge runs the POS device bridge.
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/pos-device-bridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("posbridge")
		os.Exit(1)
	}
}
