// Package main is the entry point for the deck bridge: the plugin
// backend binding control-surface keys and dials to network AV
// receivers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mthiel/denon-receiver-network-control/internal/avr"
	"github.com/mthiel/denon-receiver-network-control/internal/controller"
	"github.com/mthiel/denon-receiver-network-control/internal/discovery"
	"github.com/mthiel/denon-receiver-network-control/internal/registry"
	"github.com/mthiel/denon-receiver-network-control/internal/surface"
	"github.com/mthiel/denon-receiver-network-control/internal/version"
)

func main() {
	// The deck software launches the plugin with these flags.
	port := flag.Int("port", 0, "Deck software websocket port")
	pluginUUID := flag.String("pluginUUID", "", "Plugin instance UUID")
	registerEvent := flag.String("registerEvent", "registerPlugin", "Registration event name")
	flag.String("info", "", "Deck software info JSON (unused)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := run(*port, *pluginUUID, *registerEvent); err != nil {
		log.Fatal().Err(err).Msg("Deck bridge failed")
	}
}

func run(port int, pluginUUID, registerEvent string) error {
	if port == 0 {
		return fmt.Errorf("missing -port (the deck software supplies it)")
	}

	versionInfo := version.GetInfo()
	log.Info().Msgf("%s starting", versionInfo.String())

	deck, err := surface.Dial(port, pluginUUID, registerEvent)
	if err != nil {
		return err
	}
	defer deck.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()

	// The controller is wired up after the stores, so the registry's
	// event sink and the coordinator's change notification close over
	// it by reference.
	var ctrl *controller.Controller

	reg := registry.NewRegistry(
		func(host, nameHint string) (registry.Connection, error) {
			return avr.New(host, nameHint)
		},
		func(host string, ev avr.Event) {
			ctrl.ReceiverEvent(host, ev)
		},
		clk,
		registry.DefaultLinger,
	)
	defer reg.Close()

	assoc := registry.NewAssociationTable()

	coord := discovery.NewCoordinator(
		func(onAddress func(addr, location string)) discovery.Session {
			return discovery.NewSSDPSession(onAddress)
		},
		discovery.ResolveDisplayName,
		clk,
		func() {
			ctrl.DiscoveredChanged()
		},
	)
	defer coord.Close()

	ctrl = controller.New(reg, assoc, coord, deck)

	go deck.Run(ctx)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := deck.LogMessage(versionInfo.String() + " connected"); err != nil {
		log.Warn().Err(err).Msg("Failed to write deck log message")
	}

	for {
		select {
		case ev, ok := <-deck.Events():
			if !ok {
				// The deck software went away; the process is done.
				log.Info().Msg("Deck connection closed, shutting down")
				return nil
			}
			ctrl.HandleEvent(ev)

		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			return nil
		}
	}
}
