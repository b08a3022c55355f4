// Command relayer is the core's thin CLI surface: it never opens a
// network listener (transport is out of scope per spec.md §1), but
// exercises the read-only side of the core — policy loading/validation
// and display — the way a deployment's startup and operator tooling
// would. It does not construct an engine.Service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solrelay/paymaster/internal/logger"
	"github.com/solrelay/paymaster/internal/policy"
)

var policyPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relayer",
		Short: "Solana fee-relayer core: policy tooling and read-only diagnostics",
	}
	root.PersistentFlags().StringVar(&policyPath, "policy", "policy.yaml", "path to the policy YAML file")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the policy file",
	}
	configCmd.AddCommand(newConfigValidateCmd(), newConfigShowCmd())

	root.AddCommand(configCmd, newLivenessCmd())
	return root
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the policy file and run its structural validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(logger.Config{Level: "info", Service: "relayer-cli"})
			p, err := policy.Load(policyPath)
			if err != nil {
				log.Error().Err(err).Str("path", policyPath).Msg("config.validate.failed")
				return err
			}
			log.Info().Str("path", policyPath).Msg("config.validate.ok")
			fmt.Fprintf(cmd.OutOrStdout(), "policy %s is valid (%d allowed programs, %d allowed tokens)\n",
				policyPath, len(p.Validation.AllowedPrograms), len(p.Validation.AllowedTokens))
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Load the policy file and print its effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.Load(policyPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "max_allowed_lamports: %d\n", p.Validation.MaxAllowedLamports)
			fmt.Fprintf(out, "max_signatures: %d\n", p.Validation.MaxSignatures)
			fmt.Fprintf(out, "allowed_programs: %v\n", p.Validation.AllowedPrograms)
			fmt.Fprintf(out, "allowed_tokens: %v\n", p.Validation.AllowedTokens)
			fmt.Fprintf(out, "price_model: %s\n", p.Validation.Price.Kind)
			fmt.Fprintf(out, "payment_required: %v\n", p.Validation.IsPaymentRequired())
			return nil
		},
	}
}

func newLivenessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "liveness",
		Short: "Load the policy file and report whether the core is ready to serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := policy.Load(policyPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
