package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuttersync/shuttersync/internal/downloader"
	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Poll the relay for new artifacts and download them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if token, _ := a.sess.TokenInfo(); token == "" {
			return exitWith(exitAuth, fmt.Errorf("not logged in, run `shuttersync login` first"))
		}

		ctx := cmd.Context()
		a.sess.Start(ctx)

		pool := downloader.NewPool(ctx, a.bus, cfg.DataDir, cfg.Concurrency)
		poller, err := syncer.New(a.relay, pool, a.store, a.bus, cfg.SyncInterval)
		if err != nil {
			return exitWith(exitConfig, err)
		}

		if since, _ := cmd.Flags().GetString("since"); since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return exitWith(exitConfig, fmt.Errorf("invalid --since value %q: %w", since, err))
			}
			if err := poller.ResetHWM(t); err != nil {
				return exitWith(exitConfig, err)
			}
		}

		evtCh, unsubscribe := a.bus.Subscribe(64,
			events.TopicDownloadProgress, events.TopicDownloadHWM, events.TopicAuthInvalid)
		defer unsubscribe()

		if err := poller.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("%s watching %s for new artifacts (since %s)\n",
			cyan("sync:"), cfg.ServerURL, poller.HWM().Format(time.RFC3339))

		authFailed := false
		go func() {
			for evt := range evtCh {
				switch data := evt.Data.(type) {
				case downloader.ProgressEvent:
					if data.Status == downloader.StatusDone {
						fmt.Printf("%s %s\n", green("✓"), data.Name)
					} else if data.Status == downloader.StatusFailed {
						fmt.Printf("%s %s: %s\n", red("✗"), data.Name, data.Error)
					}
				case syncer.HWMEvent:
					fmt.Printf("%s hwm %s\n", cyan("sync:"), data.HWM.Format(time.RFC3339))
				case string:
					if evt.Topic == events.TopicAuthInvalid {
						authFailed = true
						fmt.Printf("%s authentication failed: %s\n", red("sync:"), data)
					}
				}
			}
		}()

		<-ctx.Done()
		poller.Stop()

		if authFailed {
			return exitWith(exitAuth, fmt.Errorf("relay rejected credentials"))
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("since", "", "reset the high-water mark to this RFC3339 instant before polling")
}
