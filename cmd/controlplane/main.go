package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("controlplane exited with error")
		os.Exit(1)
	}
}
