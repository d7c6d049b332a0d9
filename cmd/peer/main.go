// A headless mesh member: it joins a room of the relay and keeps a data
// channel with every other member, lines from stdin are sent to all of them.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/meshrelay/meshrelay/pkg/api"
	"github.com/meshrelay/meshrelay/pkg/client"
	"github.com/meshrelay/meshrelay/pkg/config"
	"github.com/meshrelay/meshrelay/pkg/logger"
	mos "github.com/meshrelay/meshrelay/pkg/os"
	"github.com/meshrelay/meshrelay/pkg/peer"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

func main() {
	var (
		address = pflag.String("relay", "ws://localhost:8000/ws", "Relay WebSocket address")
		room    = pflag.String("room", "", "Room to join")
		debug   = pflag.Bool("debug", false, "Verbose logs")
		logLvl  = pflag.Int("webrtc.loglevel", 1, "Pion log level")
		minPort = pflag.Uint16("webrtc.minport", 0, "Min UDP port")
		maxPort = pflag.Uint16("webrtc.maxport", 0, "Max UDP port")
	)
	pflag.Parse()
	if *room == "" {
		fmt.Fprintln(os.Stderr, "--room is required")
		pflag.Usage()
		os.Exit(2)
	}

	log := logger.NewConsole(*debug, "p", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, *address, config.Socket{SendQueue: 64, WriteWait: 10 * time.Second}, log)
	dialCancel()
	if err != nil {
		log.Fatal().Err(err).Msgf("couldn't connect to %v", *address)
	}
	defer c.Close()
	log = log.Extend(log.With().Str(logger.ClientField, c.Id))

	conf := config.Webrtc{LogLevel: *logLvl}
	conf.IcePorts.Min, conf.IcePorts.Max = *minPort, *maxPort
	if err = webrtcIce(c, &conf); err != nil {
		log.Warn().Err(err).Msg("bad ICE servers from the relay")
	}
	factory, err := peer.NewApiFactory(conf, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc")
	}

	mesh := peer.NewMesh(c, factory, log)
	mesh.OnOpen = func(id string) { log.Info().Msgf("%v is here (%v total)", id, len(mesh.Peers())) }
	mesh.OnClose = func(id string) { log.Info().Msgf("%v is gone", id) }
	mesh.OnMessage = func(from string, data []byte) { fmt.Printf("%v: %s\n", from, data) }
	if err = mesh.Join(*room); err != nil {
		log.Fatal().Err(err).Msg("join")
	}

	go func() {
		if err := mesh.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("signaling")
		}
		cancel()
	}()
	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			if err := mesh.Broadcast(in.Bytes()); err != nil {
				log.Warn().Err(err).Msg("send")
			}
		}
	}()

	select {
	case <-mos.ExpectTermination():
	case <-ctx.Done():
	}
}

func webrtcIce(c *client.Client, conf *config.Webrtc) error {
	if len(c.Ice) == 0 {
		return nil
	}
	var servers []webrtc.ICEServer
	if err := api.Unmarshal(c.Ice, &servers); err != nil {
		return err
	}
	conf.IceServers = servers
	return nil
}
