package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ProofOfReach/strata"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the encrypted interaction vault",
	Long: `Work with the per-identity encrypted ad-interaction log. Key material
for the identity is read from the STRATA_VAULT_KEY environment variable;
the derived key never leaves the process.`,
}

// vaultKeyProvider reads identity key material from the environment.
func vaultKeyProvider(ctx context.Context) ([]byte, error) {
	material := os.Getenv("STRATA_VAULT_KEY")
	if material == "" {
		return nil, fmt.Errorf("STRATA_VAULT_KEY is not set")
	}
	return []byte(material), nil
}

func unlockVault(cmd *cobra.Command) (string, error) {
	pubkey, _ := cmd.Flags().GetString("pubkey")
	if pubkey == "" {
		return "", fmt.Errorf("--pubkey is required")
	}
	if err := client.InitializeVault(cmd.Context(), pubkey, vaultKeyProvider); err != nil {
		return "", err
	}
	return pubkey, nil
}

var vaultLogCmd = &cobra.Command{
	Use:   "log <ad-id> <view|click>",
	Short: "Record an ad interaction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkey, err := unlockVault(cmd)
		if err != nil {
			return err
		}

		interaction := strata.AdInteraction{
			AdID:   args[0],
			Action: strata.InteractionAction(args[1]),
		}
		if ms, _ := cmd.Flags().GetInt64("duration-ms"); ms > 0 {
			interaction.DurationMS = ms
		}

		if err = client.LogInteraction(pubkey, interaction); err != nil {
			return err
		}
		fmt.Printf("Logged %s on %s\n", interaction.Action, interaction.AdID)
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkey, err := unlockVault(cmd)
		if err != nil {
			return err
		}

		interactions := client.Interactions(pubkey)
		if len(interactions) == 0 {
			fmt.Println("No interactions recorded")
			return nil
		}
		for _, in := range interactions {
			fmt.Printf("%s  %-5s  %s", in.Timestamp.Format(time.RFC3339), in.Action, in.AdID)
			if in.DurationMS > 0 {
				fmt.Printf("  (%dms)", in.DurationMS)
			}
			fmt.Println()
		}
		return nil
	},
}

var vaultStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkey, err := unlockVault(cmd)
		if err != nil {
			return err
		}

		stats := client.VaultStats(pubkey)
		fmt.Printf("Interactions: %d\n", stats.TotalInteractions)
		fmt.Printf("Unique ads:   %d\n", stats.UniqueAds)
		fmt.Printf("Views:        %d\n", stats.Views)
		fmt.Printf("Clicks:       %d\n", stats.Clicks)
		fmt.Printf("View time:    %dms\n", stats.TotalDurationMS)
		return nil
	},
}

var vaultExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the interaction log as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkey, err := unlockVault(cmd)
		if err != nil {
			return err
		}

		data, err := client.ExportVault(pubkey)
		if err != nil {
			return err
		}

		if out, _ := cmd.Flags().GetString("out"); out != "" {
			if err = os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Printf("Exported to %s\n", out)
			return nil
		}
		fmt.Println(string(data))
		return nil
	},
}

var vaultClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the interaction log",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			return fmt.Errorf("clearing deletes the interaction log permanently; re-run with --yes to confirm")
		}

		pubkey, err := unlockVault(cmd)
		if err != nil {
			return err
		}
		if err = client.Vault.Clear(pubkey); err != nil {
			return err
		}
		fmt.Println("Interaction log cleared")
		return nil
	},
}

func init() {
	vaultCmd.PersistentFlags().String("pubkey", "", "identity public key")

	vaultLogCmd.Flags().Int64("duration-ms", 0, "view duration in milliseconds")
	vaultExportCmd.Flags().String("out", "", "write the export to a file instead of stdout")
	vaultClearCmd.Flags().Bool("yes", false, "confirm deleting the log")

	vaultCmd.AddCommand(vaultLogCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultStatsCmd)
	vaultCmd.AddCommand(vaultExportCmd)
	vaultCmd.AddCommand(vaultClearCmd)
	rootCmd.AddCommand(vaultCmd)
}
