package main

import (
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/skinarb/internal/app"
	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/crypto"
	"github.com/alanyoungcy/skinarb/internal/platform/steam"
)

func newCodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "code",
		Short: "Print the current Steam Guard login code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig("monitor", os.Stderr)
			if err != nil {
				return err
			}

			identity, err := steam.NewFileStore(cfg.Steam.MaFilePath, cfg.Steam.IdentityPassword).Load()
			if err != nil {
				return err
			}
			hc := &http.Client{Timeout: cfg.Steam.Timeout.Duration}
			times := steam.NewTimeSource(cfg.Steam.APIURL, hc, clock.NewRealClock(), logger)

			code, now, err := app.NewGuardCodes(identity, times).CurrentCode(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (valid for %ds)\n",
				code.Value, int(math.Ceil(code.Remaining(now).Seconds())))
			return nil
		},
	}
}

func newConfirmCommand() *cobra.Command {
	var deny bool
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Resolve every pending mobile confirmation once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig("monitor", os.Stderr)
			if err != nil {
				return err
			}
			deps, cleanup, err := app.Wire(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			resolve := deps.Confirmations.ResolveAll
			verb := "accepted"
			if deny {
				resolve = deps.Confirmations.DenyAll
				verb = "denied"
			}
			n, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d confirmation(s) %s\n", n, verb)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of accept")
	return cmd
}

func newBalancesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Print the wallet balance of every trading market",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig("trade", os.Stderr)
			if err != nil {
				return err
			}
			deps, cleanup, err := app.Wire(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			balances, err := deps.Engine.Balances(cmd.Context())
			out := cmd.OutOrStdout()
			names := make([]string, 0, len(balances))
			for name := range balances {
				if name != "total" {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%-14s $%.2f\n", name, balances[name].USD)
			}
			fmt.Fprintf(out, "%-14s $%.2f\n", "total", balances["total"].USD)
			return err
		},
	}
}

func newEncryptIdentityCommand() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "encrypt-identity",
		Short: "Encrypt a plain maFile with SKINARB_IDENTITY_PASSWORD",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			password := os.Getenv("SKINARB_IDENTITY_PASSWORD")
			if password == "" {
				return fmt.Errorf("encrypt-identity: SKINARB_IDENTITY_PASSWORD is not set")
			}

			plain, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("encrypt-identity: %w", err)
			}
			if crypto.IsEncrypted(plain) {
				return fmt.Errorf("encrypt-identity: %s is already encrypted", in)
			}
			if _, err := steam.ParseMaFile(plain); err != nil {
				return fmt.Errorf("encrypt-identity: %w", err)
			}

			sealed, err := crypto.EncryptSecret(plain, password)
			if err != nil {
				return fmt.Errorf("encrypt-identity: %w", err)
			}
			if err := os.WriteFile(out, sealed, 0o600); err != nil {
				return fmt.Errorf("encrypt-identity: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted %s -> %s\n", in, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "plain maFile to read")
	cmd.Flags().StringVar(&out, "out", "", "encrypted file to write")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
