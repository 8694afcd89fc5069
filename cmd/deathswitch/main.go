package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/rajchinnag/Death-Switch/switchservice"
)

func main() {
	if err := switchservice.Run(); err != nil {
		log.Error().Err(err).Msg("deathswitch exited with error")
		os.Exit(1)
	}
}
