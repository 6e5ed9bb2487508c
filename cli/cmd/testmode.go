package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ProofOfReach/strata"
)

var testModeCmd = &cobra.Command{
	Use:   "testmode",
	Short: "Manage the elevated test-mode session",
	Long: `Manage the time-boxed test-mode session. The session grants temporary
access to all roles and expires on its own; it is only available when the
store was opened with --allow-test-mode.`,
}

var testModeEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start a test-mode session",
	RunE: func(cmd *cobra.Command, args []string) error {
		duration := time.Duration(0)
		if value, _ := cmd.Flags().GetString("duration"); value != "" {
			d, err := parseDuration(value)
			if err != nil {
				return err
			}
			duration = d
		}

		roleName, _ := cmd.Flags().GetString("role")
		role := strata.Role(roleName)
		debug, _ := cmd.Flags().GetBool("debug")

		if !client.EnableTestMode(duration, role, debug) {
			return fmt.Errorf("failed to enable test mode (is --allow-test-mode set?)")
		}

		state := client.TestModeState()
		fmt.Printf("Test mode active as %s until %s\n",
			state.CurrentRole, state.ExpiryTime.Format(time.RFC3339))
		return nil
	},
}

var testModeDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "End the test-mode session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if client.TestModeState() == nil {
			fmt.Println("Test mode is not active")
			return nil
		}
		if !client.DisableTestMode() {
			return fmt.Errorf("failed to disable test mode")
		}
		fmt.Println("Test mode disabled")
		return nil
	},
}

var testModeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the test-mode session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		state := client.TestModeState()
		if state == nil {
			fmt.Println("Test mode: inactive")
			return nil
		}

		minutes, _ := client.TestModeTimeRemaining()
		fmt.Println("Test mode: active")
		fmt.Printf("  Current role:   %s\n", state.CurrentRole)
		fmt.Printf("  Initial role:   %s\n", state.InitialRole)
		fmt.Printf("  Activated:      %s\n", state.ActivatedAt.Format(time.RFC3339))
		fmt.Printf("  Expires:        %s (~%d min)\n", state.ExpiryTime.Format(time.RFC3339), minutes)
		fmt.Printf("  Debug:          %v\n", state.Debug)
		return nil
	},
}

var testModeExtendCmd = &cobra.Command{
	Use:   "extend <duration>",
	Short: "Extend the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := parseDuration(args[0])
		if err != nil {
			return err
		}
		if !client.TestMode.ExtendDuration(d) {
			return fmt.Errorf("failed to extend test mode (no active session?)")
		}
		minutes, _ := client.TestModeTimeRemaining()
		fmt.Printf("Test mode extended, ~%d min remaining\n", minutes)
		return nil
	},
}

func init() {
	testModeEnableCmd.Flags().String("duration", "", "session length (e.g. 30m, 4h; default from store options)")
	testModeEnableCmd.Flags().String("role", "admin", "initial role for the session")
	testModeEnableCmd.Flags().Bool("debug", false, "enable verbose debugging for the session")

	testModeCmd.AddCommand(testModeEnableCmd)
	testModeCmd.AddCommand(testModeDisableCmd)
	testModeCmd.AddCommand(testModeStatusCmd)
	testModeCmd.AddCommand(testModeExtendCmd)
	rootCmd.AddCommand(testModeCmd)
}
