package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"bank-sca/internal/app"
	"bank-sca/internal/config"
	"bank-sca/internal/logging"
	"bank-sca/internal/models"
	"bank-sca/internal/services"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "scactl",
		Short:         "Operator tooling for the transaction authorization engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

// withApp loads the configuration and runs fn against a fully wired App.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, logging.New(cmd.ErrOrStderr(), false, cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Mark every pending challenge past its expiry as expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Authorization.ExpireStale(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d challenge(s)\n", n)
				return nil
			})
		},
	}
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administrative account operations",
	}
	cmd.AddCommand(accountOpenCmd())
	cmd.AddCommand(accountShowCmd())
	cmd.AddCommand(accountAdjustCmd("credit", "Add funds to an account", services.AccountService.Credit))
	cmd.AddCommand(accountAdjustCmd("debit", "Remove funds from an account", services.AccountService.Debit))
	return cmd
}

func accountOpenCmd() *cobra.Command {
	var owner, number, currency, balance string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("invalid --balance: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				acc, err := a.Accounts.Open(ctx, owner, number, currency, initial)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acc)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user id")
	cmd.Flags().StringVar(&number, "number", "", "external account number (optional)")
	cmd.Flags().StringVar(&currency, "currency", "EUR", "ISO currency code")
	cmd.Flags().StringVar(&balance, "balance", "0", "opening balance")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func accountShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [account-id]",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				acc, err := a.Accounts.GetAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acc)
			})
		},
	}
}

type adjustFunc func(s services.AccountService, ctx context.Context, id string, amount decimal.Decimal) (*models.Account, error)

func accountAdjustCmd(use, short string, adjust adjustFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [account-id] [amount]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				acc, err := adjust(a.Accounts, ctx, args[0], amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acc)
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var user string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Production() {
				return fmt.Errorf("token minting is disabled in production")
			}
			token, err := services.NewAuthService(cfg.JWTSecret).IssueToken(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
