package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/importer"
	"github.com/shuttersync/shuttersync/internal/uploader"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import files from a source tree to the enabled destinations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if src, _ := cmd.Flags().GetString("source"); src != "" {
			cfg.ImportSource = src
		}
		if cmd.Flags().Changed("recurse") {
			cfg.Recurse, _ = cmd.Flags().GetBool("recurse")
		}
		if cfg.ImportSource == "" {
			return exitWith(exitConfig, fmt.Errorf("no import source configured (use --source)"))
		}
		cmd.SilenceUsage = true

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		dsts, sinks, err := a.buildTargets()
		if err != nil {
			return err
		}
		if len(sinks) == 0 {
			return exitWith(exitConfig, fmt.Errorf("no destinations enabled"))
		}

		folderPolicy, err := cfg.FolderPolicy()
		if err != nil {
			return exitWith(exitConfig, err)
		}

		ctx := cmd.Context()
		a.sess.Start(ctx)

		pool := uploader.NewPool(ctx, a.bus, cfg.Concurrency, cfg.MaxFileSize)
		engine := importer.New(pool, a.bus)

		targets := make([]importer.Target, len(sinks))
		for i := range sinks {
			targets[i] = importer.Target{Destination: dsts[i], Sink: sinks[i]}
		}

		skipDup := cfg.SkipDup()
		if cmd.Flags().Changed("skip-duplicates") {
			skipDup, _ = cmd.Flags().GetBool("skip-duplicates")
		}
		excludes, _ := cmd.Flags().GetStringSlice("exclude")
		excludes = append(excludes, cfg.Excludes...)

		run, err := engine.Start(ctx, importer.ImportJob{
			SourceRoot:     cfg.ImportSource,
			Recurse:        cfg.Recurse,
			Excludes:       excludes,
			Policy:         folderPolicy,
			Targets:        targets,
			SkipDuplicates: skipDup,
		})
		if err != nil {
			return exitWith(exitConfig, err)
		}

		evtCh, unsubscribe := a.bus.Subscribe(64,
			events.TopicUploadProgress, events.TopicImportLog, events.TopicImportProgress)
		defer unsubscribe()
		go printImportEvents(evtCh)

		select {
		case <-ctx.Done():
			fmt.Println(red("cancelling..."))
			run.Cancel()
			<-run.Done()
		case <-run.Done():
		}

		progress := run.Progress()
		fmt.Printf("%s %d imported, %d failed of %d files\n",
			statusBadge(run.Status()), progress.Completed, progress.Failed, progress.Total)

		switch run.Status() {
		case importer.StatusCancelled:
			return exitWith(exitCancelled, fmt.Errorf("import cancelled"))
		case importer.StatusPartial, importer.StatusFailed:
			return exitWith(exitPartial, fmt.Errorf("%d of %d files failed", progress.Failed, progress.Total))
		default:
			return nil
		}
	},
}

func init() {
	importCmd.Flags().String("source", "", "source directory (default from config)")
	importCmd.Flags().BoolP("recurse", "r", false, "descend into subdirectories")
	importCmd.Flags().Bool("skip-duplicates", true, "skip files already present at filesystem destinations")
	importCmd.Flags().StringSlice("exclude", nil, "glob patterns to exclude")
}

func printImportEvents(ch <-chan events.Event) {
	for evt := range ch {
		switch data := evt.Data.(type) {
		case uploader.ProgressEvent:
			if data.Status.Terminal() {
				badge := green("✓")
				if data.Status != uploader.StatusDone {
					badge = red("✗")
				}
				fmt.Printf("%s %s → %s (%s)\n", badge, data.Key, data.SinkName,
					humanize.Bytes(uint64(data.BytesTotal)))
			}
		case events.LogEvent:
			fmt.Printf("  %s\n", data.Message)
		}
	}
}

func statusBadge(s importer.Status) string {
	switch s {
	case importer.StatusCompleted:
		return green("done:")
	case importer.StatusCancelled:
		return red("cancelled:")
	default:
		return red("failed:")
	}
}
