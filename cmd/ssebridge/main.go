package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ssebridge/internal/cli"
)

// 构建时注入
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// 加载环境变量 - 优先加载.env.local，然后是.env
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Debug().Msg("no .env file found, using system environment variables")
		} else {
			log.Debug().Msg("loaded configuration from .env file")
		}
	} else {
		log.Debug().Msg("loaded configuration from .env.local file")
	}

	cli.SetVersion(version, commit, date)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
