package main

import (
	"context"
	"errors"

	"github.com/BearBump/FleetTrack/config"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}

	app := mustBootstrapFleetAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("fleet-api stopped")
	}
}
