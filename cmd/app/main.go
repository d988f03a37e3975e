package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const serviceName = "bundlealert-miniapp"

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "bundlealert",
		Usage:   "BundleAlert wallet verification mini-app",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
		},
		DefaultCommand: runCmd.Name,
		Commands: []*cli.Command{
			runCmd,
			verifyCmd,
			statusCmd,
			disconnectCmd,
			cleanupCmd,
			diagnoseCmd,
			tokensCmd,
			balanceCmd,
			feedbackCmd,
			initDataCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
