package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuttersync/shuttersync/internal/relaysdk"
	"github.com/shuttersync/shuttersync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Detailed())

		check, _ := cmd.Flags().GetBool("check")
		if !check {
			return nil
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		client := relaysdk.New(cfg.ServerURL, nil)
		defer client.Close()

		resp, err := client.VersionCheck(cmd.Context())
		if err != nil {
			return fmt.Errorf("version check: %w", err)
		}

		switch resp.Status {
		case relaysdk.VersionOK:
			fmt.Printf("%s this build is up to date\n", green("✓"))
		case relaysdk.VersionOutdated:
			fmt.Printf("%s a newer build is available: %s\n", cyan("!"), resp.Message)
		case relaysdk.VersionRequired:
			fmt.Printf("%s this build must be updated: %s\n", red("!"), resp.Message)
		case relaysdk.VersionDown:
			fmt.Printf("%s relay in maintenance until %s\n", red("!"), resp.MaintenanceUntil)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("check", false, "ask the relay whether this build may run")
}
