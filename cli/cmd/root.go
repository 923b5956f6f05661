package cmd

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"southwinds.dev/citadel"
	"southwinds.dev/citadel/audit"
	"southwinds.dev/citadel/persist"
)

var (
	cfgFile     string
	manager     *citadel.Manager
	auditLogger audit.Logger
	cliContext  *CLIContext
)

// CLIContext identifies one CLI session in the audit trail.
type CLIContext struct {
	UserID    string
	SessionID string
	Hostname  string
	StartTime time.Time
}

var rootCmd = &cobra.Command{
	Use:   "citadel",
	Short: "A guarded secret store with encrypted snapshots",
	Long: `Citadel keeps secrets in guarded memory cells, encrypted per record with
ChaCha20-Poly1305, and persists full state only as passphrase-encrypted
snapshots. Records can be revoked, which destroys their key material
irreversibly, and garbage collected.`,
	PersistentPreRunE: initializeManager,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if manager != nil {
			return manager.Close()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.citadel.yaml)")
	rootCmd.PersistentFlags().StringP("store-path", "p", "", "path to snapshot storage")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")
	rootCmd.PersistentFlags().String("passphrase", "", "snapshot passphrase (or use CITADEL_PASSPHRASE env var)")
	rootCmd.PersistentFlags().Bool("unique-ids", false, "reject writes to existing record ids")
	rootCmd.PersistentFlags().Bool("lock-memory", false, "lock the process address space against swapping")

	bindFlagOrPanic("store.path", "store-path")
	bindFlagOrPanic("store.type", "store-type")
	bindFlagOrPanic("store.passphrase", "passphrase")
	bindFlagOrPanic("engine.unique_ids", "unique-ids")
	bindFlagOrPanic("engine.lock_memory", "lock-memory")

	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "use SSL for S3 connections")

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
		viper.AddConfigPath("/etc/citadel")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".citadel")
	}

	viper.SetEnvPrefix("CITADEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

func setDefaults() {
	viper.SetDefault("store.path", ".citadel")
	viper.SetDefault("store.type", "file")

	viper.SetDefault("store.s3.region", "us-east-1")
	viper.SetDefault("store.s3.prefix", "citadel/")
	viper.SetDefault("store.s3.use_ssl", true)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.file_path", "audit.log")
	viper.SetDefault("audit.log_level", "info")
}

func initializeManager(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "help", "completion", "__complete":
		return nil
	}

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: uuid.New().String(),
		Hostname:  getHostname(),
		StartTime: time.Now(),
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	backend, err := createBackend()
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}

	opts := citadel.Options{
		UniqueRecordIDs:  viper.GetBool("engine.unique_ids"),
		EnableMemoryLock: viper.GetBool("engine.lock_memory"),
		UserID:           cliContext.UserID,
	}
	manager, err = citadel.NewManager(backend, opts, auditLogger)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	_ = auditLogger.Log("cli_command", true, map[string]interface{}{
		"command":  cmd.Name(),
		"session":  cliContext.SessionID,
		"hostname": cliContext.Hostname,
		"flags":    sanitizeFlags(cmd),
	})
	return nil
}

// sanitizeFlags collects the flags set on the invocation for the audit
// trail, masking anything secret-bearing.
func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			return
		}
		if isSensitiveFlag(flag.Name) {
			flags[flag.Name] = "[REDACTED]"
		} else {
			flags[flag.Name] = flag.Value.String()
		}
	})
	return flags
}

func isSensitiveFlag(name string) bool {
	switch name {
	case "passphrase", "s3-secret-key", "s3-access-key", "value":
		return true
	}
	return false
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled: viper.GetBool("audit.enabled"),
		UserID:  getCurrentUser(),
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

func createBackend() (persist.Store, error) {
	switch strings.ToLower(viper.GetString("store.type")) {
	case "file", "filesystem", "":
		return persist.NewFileSystemStore(viper.GetString("store.path"))
	case "s3":
		return persist.NewS3Store(persist.S3Config{
			Endpoint:        viper.GetString("store.s3.endpoint"),
			AccessKeyID:     viper.GetString("store.s3.access_key_id"),
			SecretAccessKey: viper.GetString("store.s3.secret_access_key"),
			Bucket:          viper.GetString("store.s3.bucket"),
			KeyPrefix:       viper.GetString("store.s3.prefix"),
			UseSSL:          viper.GetBool("store.s3.use_ssl"),
			Region:          viper.GetString("store.s3.region"),
		})
	default:
		return nil, fmt.Errorf("unsupported store type: %s", viper.GetString("store.type"))
	}
}

// resolvePassphrase returns the snapshot passphrase from the flag, the
// environment, or an interactive prompt, in that order.
func resolvePassphrase() ([]byte, error) {
	if p := viper.GetString("store.passphrase"); p != "" {
		return []byte(p), nil
	}
	if p := os.Getenv("CITADEL_PASSPHRASE"); p != "" {
		return []byte(p), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, fmt.Errorf("passphrase is required (use --passphrase or CITADEL_PASSPHRASE)")
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(pass) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	return pass, nil
}

func getCurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func getHostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
