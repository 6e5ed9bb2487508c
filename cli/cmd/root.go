package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ProofOfReach/strata"
	"github.com/ProofOfReach/strata/audit"
	"github.com/ProofOfReach/strata/persist"
)

var (
	cfgFile   string
	storePath string
	namespace string
	secret    string
	client    *strata.Client
)

// backendFlag resolves the --backend flag into a BackendKind.
func backendFlag(cmd *cobra.Command) strata.BackendKind {
	kind, _ := cmd.Flags().GetString("backend")
	switch kind {
	case "session":
		return strata.Session
	case "memory":
		return strata.Memory
	default:
		return strata.Durable
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Inspect and manage layered client state",
	Long: `Strata manages the layered client-state store used by ProofOfReach
applications: namespaced key/value items over durable, session and memory
backends, with roles, time-boxed test-mode sessions and an encrypted
per-identity interaction vault.`,
	PersistentPreRunE: initializeClient,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if client != nil {
			return client.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept underscore spellings for every flag (--store_type == --store-type).
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.strata.yaml)")
	rootCmd.PersistentFlags().StringVarP(&storePath, "path", "p", "", "path to durable storage")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "key namespace")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "secret for encrypted items (or use STRATA_SECRET env var)")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")
	rootCmd.PersistentFlags().Bool("allow-test-mode", false, "allow the elevated test-mode session")

	bindFlagOrPanic("store.path", "path")
	bindFlagOrPanic("store.namespace", "namespace")
	bindFlagOrPanic("store.secret", "secret")
	bindFlagOrPanic("store.type", "store-type")
	bindFlagOrPanic("store.allow_test_mode", "allow-test-mode")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("store.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("store.s3.region", "s3-region")
	bindFlagOrPanic("store.s3.bucket", "s3-bucket")
	bindFlagOrPanic("store.s3.prefix", "s3-prefix")
	bindFlagOrPanic("store.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("store.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("store.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".strata")
	}

	viper.SetEnvPrefix("STRATA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Missing config file is fine, defaults and env vars apply.
	}
}

func setDefaults() {
	viper.SetDefault("store.namespace", strata.DefaultNamespace)
	viper.SetDefault("store.type", "file")

	viper.SetDefault("store.s3.region", "us-east-1")
	viper.SetDefault("store.s3.prefix", "strata/")
	viper.SetDefault("store.s3.use_ssl", true)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.max_size", 100)
	viper.SetDefault("audit.options.max_backups", 5)
}

func initializeClient(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "help", "completion", "__complete", "config":
		return nil
	}

	namespace = viper.GetString("store.namespace")
	storePath = viper.GetString("store.path")
	if storePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		storePath = filepath.Join(dir, "strata", namespace)
	}

	secret = viper.GetString("store.secret")
	if secret == "" {
		secret = os.Getenv("STRATA_SECRET")
	}

	config := strata.ClientConfig{
		BasePath: storePath,
		Options: strata.Options{
			Namespace:     namespace,
			DefaultSecret: secret,
			AllowTestMode: viper.GetBool("store.allow_test_mode"),
		},
	}

	if viper.GetString("store.type") == "s3" {
		config.Durable = persist.Config{
			Type: persist.BackendTypeS3,
			Config: map[string]interface{}{
				"endpoint":          viper.GetString("store.s3.endpoint"),
				"region":            viper.GetString("store.s3.region"),
				"bucket":            viper.GetString("store.s3.bucket"),
				"key_prefix":        viper.GetString("store.s3.prefix"),
				"access_key_id":     viper.GetString("store.s3.access_key_id"),
				"secret_access_key": viper.GetString("store.s3.secret_access_key"),
				"use_ssl":           viper.GetBool("store.s3.use_ssl"),
			},
		}
	}

	if viper.GetBool("audit.enabled") {
		auditFile := viper.GetString("audit.options.file_path")
		if auditFile == "" {
			auditFile = filepath.Join(storePath, "audit.log")
		}
		config.Audit = audit.Config{
			Enabled:   true,
			Namespace: namespace,
			Type:      audit.ConfigType(viper.GetString("audit.type")),
			Options: map[string]interface{}{
				"file_path":   auditFile,
				"max_size":    viper.GetInt("audit.options.max_size"),
				"max_backups": viper.GetInt("audit.options.max_backups"),
			},
		}
	}

	var err error
	client, err = strata.Open(config)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	return nil
}

// parseDuration accepts plain minutes as well as Go duration syntax.
func parseDuration(value string) (time.Duration, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	var minutes int
	if _, err := fmt.Sscanf(value, "%d", &minutes); err == nil {
		return time.Duration(minutes) * time.Minute, nil
	}
	return 0, fmt.Errorf("invalid duration %q (use e.g. 30m, 2h or plain minutes)", value)
}
