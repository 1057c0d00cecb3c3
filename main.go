package main

import (
	"os"

	"github.com/go-kit/kit/log"

	"github.com/gilburns/intuneomator/app"
)

func main() {
	logger := log.NewLogfmtLogger(os.Stderr)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	status, err := app.Main(logger)
	if err != nil {
		logger.Log("err", err)
	}
	os.Exit(status)
}
