package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shuttersync/shuttersync/internal/sink"
	"github.com/shuttersync/shuttersync/internal/uploader"
	"github.com/shuttersync/shuttersync/internal/utils"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload individual files to one configured destination",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		typeName, _ := cmd.Flags().GetString("to")
		dstType, err := sink.ParseType(typeName)
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

		folderPolicy, err := cfg.FolderPolicy()
		if err != nil {
			return exitWith(exitConfig, err)
		}

		ctx := cmd.Context()
		a.sess.Start(ctx)

		pool := uploader.NewPool(ctx, a.bus, cfg.Concurrency, cfg.MaxFileSize)

		var jobs []*uploader.Job
		for _, path := range args {
			abs, err := utils.ResolvePath(path)
			if err != nil {
				return exitWith(exitConfig, err)
			}
			info, err := os.Stat(abs)
			if err != nil {
				return exitWith(exitConfig, err)
			}
			if info.IsDir() {
				return exitWith(exitConfig, fmt.Errorf("%s is a directory, use `shuttersync import`", path))
			}

			job := uploader.NewJob(abs, folderPolicy.Key(info.Name(), info.ModTime()), target, info.Size())
			if err := pool.Submit(job); err != nil {
				return exitWith(exitConfig, err)
			}
			jobs = append(jobs, job)
		}

		cancelled := false
		failed := 0
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				pool.CancelAll()
				cancelled = true
			case <-job.Done():
			}
		}
		for _, job := range jobs {
			<-job.Done()
			switch job.Status() {
			case uploader.StatusDone:
				fmt.Printf("%s %s → %s (%s)\n", green("✓"), job.Key,
					target.DisplayName(), humanize.Bytes(uint64(job.Size)))
			case uploader.StatusFailed:
				failed++
				fmt.Printf("%s %s: %v\n", red("✗"), job.Key, job.Err())
			case uploader.StatusCancelled:
				cancelled = true
			}
		}

		switch {
		case cancelled:
			return exitWith(exitCancelled, fmt.Errorf("upload cancelled"))
		case failed > 0:
			if authFailed(jobs) {
				return exitWith(exitAuth, fmt.Errorf("%d of %d uploads failed authentication", failed, len(jobs)))
			}
			return exitWith(exitPartial, fmt.Errorf("%d of %d uploads failed", failed, len(jobs)))
		default:
			return nil
		}
	},
}

func init() {
	uploadCmd.Flags().String("to", "relay", "destination type (local|backup|relay|s3|azure|gcs)")
}

func findDestination(dsts []sink.Destination, t sink.Type) (sink.Destination, bool) {
	for _, d := range dsts {
		if d.Type == t {
			return d, true
		}
	}
	// relay needs no per-destination config
	if t == sink.TypeRelay {
		return sink.Destination{Type: sink.TypeRelay, Enabled: true}, true
	}
	return sink.Destination{}, false
}

func authFailed(jobs []*uploader.Job) bool {
	for _, job := range jobs {
		if job.Status() == uploader.StatusFailed && sink.KindOf(job.Err()) == sink.KindUnauthenticated {
			return true
		}
	}
	return false
}
