package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/caravelhq/caravel-cli/credentials"
)

// Auth command flags.
var (
	authAIKey          string
	authDBPassword     string
	authRedisPassword  string
	authNonInteractive bool
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored secrets",
		Long: `Manage the secrets caravel needs: the AI API key and the database
and Redis passwords.

Secrets are stored encrypted in ~/.caravel/credentials.yaml. The
encryption key comes from the OS keyring when one is available, the
CARAVEL_ENCRYPTION_KEY environment variable, or an interactive
passphrase.

Environment variables (CARAVEL_AI_API_KEY, CARAVEL_DB_PASSWORD,
CARAVEL_REDIS_PASSWORD) take precedence over stored values.`,
	}

	cmd.AddCommand(newAuthSetCmd())
	cmd.AddCommand(newAuthShowCmd())
	cmd.AddCommand(newAuthClearCmd())

	return cmd
}

// newAuthSetCmd creates the 'auth set' subcommand.
func newAuthSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store secrets in the encrypted credential store",
		Long: `Store secrets in the encrypted credential store.

Without flags, prompts interactively with hidden input; pressing Enter
at a prompt keeps the currently stored value. With flags, only the
given secrets are updated.

Examples:
  # Interactive
  caravel auth set

  # Scripted
  caravel auth set --ai-api-key sk-... --non-interactive

  # Update just the database password
  caravel auth set --db-password 's3cret' --non-interactive`,
		Args: cobra.NoArgs,
		RunE: runAuthSet,
	}

	cmd.Flags().StringVar(&authAIKey, "ai-api-key", "", "AI service API key")
	cmd.Flags().StringVar(&authDBPassword, "db-password", "", "PostgreSQL password")
	cmd.Flags().StringVar(&authRedisPassword, "redis-password", "", "Redis password")
	cmd.Flags().BoolVar(&authNonInteractive, "non-interactive", false, "Never prompt; use flag values only")

	return cmd
}

// newAuthShowCmd creates the 'auth show' subcommand.
func newAuthShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show which secrets are stored",
		Long: `Show which secrets are stored, masked. Values taken from
environment variables are marked as such.

Examples:
  caravel auth show`,
		Args: cobra.NoArgs,
		RunE: runAuthShow,
	}
}

// newAuthClearCmd creates the 'auth clear' subcommand.
func newAuthClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all stored secrets",
		Long: `Delete the encrypted credential file.

Environment variables are not affected.

Examples:
  caravel auth clear`,
		Args: cobra.NoArgs,
		RunE: runAuthClear,
	}
}

// runAuthSet executes the auth set command.
func runAuthSet(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	creds, err := store.Load()
	if err != nil {
		if !errors.Is(err, credentials.ErrNoCredentials) {
			return fmt.Errorf("loading stored credentials: %w", err)
		}
		creds = &credentials.Credentials{}
	}

	if authNonInteractive {
		if authAIKey == "" && authDBPassword == "" && authRedisPassword == "" {
			return fmt.Errorf("nothing to store: pass at least one of --ai-api-key, --db-password, --redis-password")
		}
	} else if authAIKey == "" && authDBPassword == "" && authRedisPassword == "" {
		if err := promptForSecrets(creds); err != nil {
			return err
		}
	}
	if authAIKey != "" {
		creds.AIAPIKey = authAIKey
	}
	if authDBPassword != "" {
		creds.DBPassword = authDBPassword
	}
	if authRedisPassword != "" {
		creds.RedisPassword = authRedisPassword
	}

	if creds.IsEmpty() {
		return fmt.Errorf("nothing to store")
	}
	if err := store.Save(creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	path, _ := credentials.CredentialsPath()
	fmt.Printf("Credentials saved to %s (encryption key: %s)\n", path, store.KeyDescription())
	return nil
}

// runAuthShow executes the auth show command.
func runAuthShow(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	creds, err := store.GetActiveCredentials()
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredentials) {
			fmt.Println("No credentials stored. Run 'caravel auth set'.")
			return nil
		}
		return err
	}

	fmt.Println("Active credentials:")
	printSecretLine("AI API key", creds.AIAPIKey, "CARAVEL_AI_API_KEY", credentials.MaskAPIKey)
	printSecretLine("DB password", creds.DBPassword, "CARAVEL_DB_PASSWORD", credentials.MaskCredential)
	printSecretLine("Redis password", creds.RedisPassword, "CARAVEL_REDIS_PASSWORD", credentials.MaskCredential)

	if store.Exists() {
		path, _ := credentials.CredentialsPath()
		fmt.Printf("\nStored in: %s (encryption key: %s)\n", path, store.KeyDescription())
	}
	return nil
}

// runAuthClear executes the auth clear command.
func runAuthClear(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	if !store.Exists() {
		fmt.Println("No credentials stored.")
		return nil
	}
	if err := store.Delete(); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	fmt.Println("Credentials cleared.")
	return nil
}

// printSecretLine renders one masked secret with its source.
func printSecretLine(label, value, envVar string, mask func(string) string) {
	switch {
	case value == "":
		fmt.Printf("  %-15s (not set)\n", label+":")
	case os.Getenv(envVar) != "":
		fmt.Printf("  %-15s %s (from %s)\n", label+":", mask(value), envVar)
	default:
		fmt.Printf("  %-15s %s\n", label+":", mask(value))
	}
}

// promptForSecrets interactively fills creds, keeping existing values on
// empty input.
func promptForSecrets(creds *credentials.Credentials) error {
	fmt.Println("Enter secrets; press Enter to keep the current value.")
	fmt.Println()

	aiKey, err := promptSecret(fmt.Sprintf("AI API key [%s]: ", maskOrNone(creds.AIAPIKey, credentials.MaskAPIKey)))
	if err != nil {
		return err
	}
	if aiKey != "" {
		creds.AIAPIKey = aiKey
	}

	dbPass, err := promptSecret(fmt.Sprintf("DB password [%s]: ", maskOrNone(creds.DBPassword, credentials.MaskCredential)))
	if err != nil {
		return err
	}
	if dbPass != "" {
		creds.DBPassword = dbPass
	}

	redisPass, err := promptSecret(fmt.Sprintf("Redis password [%s]: ", maskOrNone(creds.RedisPassword, credentials.MaskCredential)))
	if err != nil {
		return err
	}
	if redisPass != "" {
		creds.RedisPassword = redisPass
	}
	return nil
}

// promptSecret reads one secret with hidden input, falling back to plain
// input when stdin is not a terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	return strings.TrimSpace(string(raw)), nil
}

// maskOrNone renders a stored value for a prompt default.
func maskOrNone(value string, mask func(string) string) string {
	if value == "" {
		return "none"
	}
	return mask(value)
}
