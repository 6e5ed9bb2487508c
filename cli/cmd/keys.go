package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ProofOfReach/strata"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage stored items",
	Long:  `List, read, write and remove items in the store's namespace.`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys in the namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := backendFlag(cmd)
		keys := client.Keys(kind)
		if len(keys) == 0 {
			fmt.Printf("No keys in namespace %q on the %s backend\n", namespace, kind)
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var keysGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := &strata.GetOptions{Backend: backendFlag(cmd), Secret: secret}

		var value interface{}
		if !client.Get(args[0], &value, opts) {
			return fmt.Errorf("key %q not found (or expired)", args[0])
		}

		out, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var keysSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one item",
	Long: `Write an item. The value is stored as JSON when it parses as JSON,
as a plain string otherwise.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value interface{}
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			value = args[1]
		}

		opts := &strata.SetOptions{Backend: backendFlag(cmd)}

		if expiry, _ := cmd.Flags().GetString("expiry"); expiry != "" {
			d, err := parseDuration(expiry)
			if err != nil {
				return err
			}
			opts.Expiry = d
		}
		if encrypt, _ := cmd.Flags().GetBool("encrypt"); encrypt {
			opts.Encrypt = true
			opts.Secret = secret
		}

		if !client.Set(args[0], value, opts) {
			return fmt.Errorf("failed to store key %q", args[0])
		}
		fmt.Printf("Stored %q\n", args[0])
		return nil
	},
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Remove one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !client.Remove(args[0], backendFlag(cmd)) {
			return fmt.Errorf("failed to remove key %q", args[0])
		}
		fmt.Printf("Removed %q\n", args[0])
		return nil
	},
}

var keysClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every item in the namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			return fmt.Errorf("clearing namespace %q removes all its items; re-run with --yes to confirm", namespace)
		}

		kind := backendFlag(cmd)
		count := len(client.Keys(kind))
		if !client.Clear(kind) {
			return fmt.Errorf("failed to clear namespace %q", namespace)
		}
		fmt.Printf("Cleared %d item(s) from namespace %q\n", count, namespace)
		return nil
	},
}

var keysCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove expired items",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed := client.CleanExpired(backendFlag(cmd))
		fmt.Printf("Removed %d expired item(s)\n", removed)
		return nil
	},
}

func init() {
	keysCmd.PersistentFlags().String("backend", "durable", "backend to target (durable, session, memory)")

	keysSetCmd.Flags().String("expiry", "", "time to live (e.g. 30m, 2h)")
	keysSetCmd.Flags().Bool("encrypt", false, "store the value encrypted")
	keysClearCmd.Flags().Bool("yes", false, "confirm clearing the namespace")

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysGetCmd)
	keysCmd.AddCommand(keysSetCmd)
	keysCmd.AddCommand(keysRemoveCmd)
	keysCmd.AddCommand(keysClearCmd)
	keysCmd.AddCommand(keysCleanCmd)
	rootCmd.AddCommand(keysCmd)
}
