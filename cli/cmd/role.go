package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ProofOfReach/strata"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage the current role",
}

var roleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective role",
	RunE: func(cmd *cobra.Command, args []string) error {
		current := client.CurrentRole(true)
		durable := client.CurrentRole(false)

		fmt.Printf("Current role: %s\n", current)
		if current != durable {
			fmt.Printf("Stored role:  %s (overridden by test mode)\n", durable)
		}

		fmt.Print("Available roles: ")
		for i, role := range client.AvailableRoles(true) {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(role)
		}
		fmt.Println()
		return nil
	},
}

var roleSetCmd = &cobra.Command{
	Use:   "set <role>",
	Short: "Set the current role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := strata.Role(args[0])
		if !role.Valid() {
			return fmt.Errorf("unknown role %q (valid: %v)", args[0], strata.AllRoles())
		}
		if !client.IsRoleAvailable(role) {
			return fmt.Errorf("role %q is not in the available set %v", role, client.AvailableRoles(true))
		}
		if !client.SetCurrentRole(role, nil) {
			return fmt.Errorf("failed to set role %q", role)
		}
		fmt.Printf("Current role is now %s\n", role)
		return nil
	},
}

var roleGrantCmd = &cobra.Command{
	Use:   "grant <role> [role...]",
	Short: "Replace the available role set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roles []strata.Role
		for _, arg := range args {
			role := strata.Role(arg)
			if !role.Valid() {
				return fmt.Errorf("unknown role %q (valid: %v)", arg, strata.AllRoles())
			}
			roles = append(roles, role)
		}

		current := client.CurrentRole(false)
		if !client.SetCurrentRole(current, roles) {
			return fmt.Errorf("failed to update available roles")
		}
		fmt.Printf("Available roles: %v\n", client.AvailableRoles(false))
		return nil
	},
}

func init() {
	roleCmd.AddCommand(roleShowCmd)
	roleCmd.AddCommand(roleSetCmd)
	roleCmd.AddCommand(roleGrantCmd)
	rootCmd.AddCommand(roleCmd)
}
