package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the relay with a one-time password",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			email = cfg.Email
		}
		if email == "" {
			email = viper.GetString("email")
		}
		if email == "" {
			return exitWith(exitConfig, fmt.Errorf("no email given (use --email)"))
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()

		loginSession, err := a.relay.LoginInitialize(ctx, email)
		if err != nil {
			return exitWith(exitAuth, fmt.Errorf("login initialize: %w", err))
		}

		fmt.Printf("%s a one-time password was mailed to %s\n", cyan("login:"), email)
		fmt.Print("Enter OTP: ")
		reader := bufio.NewReader(os.Stdin)
		otp, err := reader.ReadString('\n')
		if err != nil {
			return exitWith(exitCancelled, fmt.Errorf("read otp: %w", err))
		}
		otp = strings.TrimSpace(otp)

		tok, err := a.relay.LoginFinalize(ctx, loginSession.SessionID, otp)
		if err != nil {
			return exitWith(exitAuth, fmt.Errorf("login finalize: %w", err))
		}

		if err := a.store.SaveTokens(tok.Token, ""); err != nil {
			return fmt.Errorf("persist token: %w", err)
		}
		if err := a.store.SaveEmail(email); err != nil {
			return fmt.Errorf("persist email: %w", err)
		}
		a.sess.SetToken(tok.Token)

		_, expiresAt := a.sess.TokenInfo()
		fmt.Printf("%s logged in as %s (token expires %s)\n", green("✓"), email, expiresAt.Local())
		return nil
	},
}

func init() {
	loginCmd.Flags().StringP("email", "e", "", "account email address")
}
