package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/sink"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage destination services",
}

var serviceTestCmd = &cobra.Command{
	Use:   "test <type>",
	Short: "Test connectivity of a configured destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		dstType, err := sink.ParseType(args[0])
		if err != nil {
			return exitWith(exitConfig, err)
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		dst, ok := findDestination(cfg.Destinations, dstType)
		if !ok {
			return exitWith(exitConfig, fmt.Errorf("no %s destination configured", dstType))
		}

		target, err := sink.Build(dst, sink.Deps{Relay: a.relay})
		if err != nil {
			return exitWith(exitConfig, err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		start := time.Now()
		testErr := target.TestConnection(ctx)
		elapsed := time.Since(start).Round(time.Millisecond)

		a.bus.Publish(events.TopicServiceTest, serviceTestResult(dstType, testErr))

		if testErr != nil {
			fmt.Printf("%s %s: %v\n", red("✗"), target.DisplayName(), testErr)
			switch sink.KindOf(testErr) {
			case sink.KindUnauthenticated:
				return exitWith(exitAuth, testErr)
			case sink.KindConfigInvalid:
				return exitWith(exitConfig, testErr)
			default:
				return exitWith(exitPartial, testErr)
			}
		}

		fmt.Printf("%s %s reachable (%s)\n", green("✓"), target.DisplayName(), elapsed)
		return nil
	},
}

// ServiceTestEvent is the payload on service.test.
type ServiceTestEvent struct {
	Type  sink.Type
	OK    bool
	Error string
}

func serviceTestResult(t sink.Type, err error) ServiceTestEvent {
	evt := ServiceTestEvent{Type: t, OK: err == nil}
	if err != nil {
		evt.Error = err.Error()
	}
	return evt
}

func init() {
	serviceCmd.AddCommand(serviceTestCmd)
}
