package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ProofOfReach/strata"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store status",
	Long:  "Display the store's namespace, backends and item counts.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("Store Status")
	fmt.Println("============")

	fmt.Printf("Namespace:    %s\n", client.Namespace())
	fmt.Printf("Storage path: %s\n", storePath)

	for _, kind := range []strata.BackendKind{strata.Durable, strata.Session, strata.Memory} {
		fmt.Printf("%-8s %d item(s)\n", string(kind)+":", len(client.Keys(kind)))
	}

	fmt.Printf("Current role: %s\n", client.CurrentRole(true))

	if state := client.TestModeState(); state != nil {
		minutes, _ := client.TestModeTimeRemaining()
		fmt.Printf("Test mode:    active as %s (~%d min remaining)\n", state.CurrentRole, minutes)
	} else {
		fmt.Println("Test mode:    inactive")
	}

	return nil
}
