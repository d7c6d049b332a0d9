package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/meshrelay/meshrelay/pkg/config"
	"github.com/meshrelay/meshrelay/pkg/logger"
	"github.com/meshrelay/meshrelay/pkg/monitoring"
	mos "github.com/meshrelay/meshrelay/pkg/os"
	"github.com/meshrelay/meshrelay/pkg/relay"
	"github.com/meshrelay/meshrelay/pkg/service"
)

var Version = "?"

func main() {
	conf, err := config.Load("relay", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.NewConsole(conf.Relay.Debug, "r", false)
	if conf.Relay.LogJson {
		log = logger.New(conf.Relay.Debug)
	}
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	services := service.Group{}
	r, err := relay.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay init")
	}
	services.Add(r)
	if conf.Relay.Monitoring.IsEnabled() {
		m, err := monitoring.New(conf.Relay.Monitoring, log)
		if err != nil {
			log.Fatal().Err(err).Msg("monitoring init")
		}
		services.Add(m)
	}
	services.Start()

	<-mos.ExpectTermination()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := services.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
