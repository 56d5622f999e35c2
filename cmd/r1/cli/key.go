package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/r1hq/r1/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys used for signed programmatic requests.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key for a user",
		Long:  "Generate a new API key bound to a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  r1 key create --user alice
  r1 key create --user 0198b2c4-7f31-7c9a-b2f0-1d2e3f405162`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(user)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username or user ID to bind the key to (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(user string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	u, err := findUserByName(ctx, st, user)
	if err != nil {
		return err
	}

	keySvc := service.NewKeyService(st)
	plaintext, err := keySvc.Create(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:   %s\n", plaintext)
	fmt.Printf("  User:  %s\n", u.Username)
	fmt.Printf("  Valid: %s\n", service.RotationInterval)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	// Build an owner ID -> username map for display.
	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	usernames := make(map[string]string, len(users))
	for _, u := range users {
		usernames[u.ID] = u.Username
	}

	type keyRow struct {
		ID          string `json:"id"`
		User        string `json:"user"`
		LastRotated string `json:"last_rotated"`
		ExpiresAt   string `json:"expires_at"`
		Expired     bool   `json:"expired"`
	}

	now := time.Now()
	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		owner := usernames[k.OwnerID]
		if owner == "" {
			owner = k.OwnerID
		}
		rows[i] = keyRow{
			ID:          k.ID,
			User:        owner,
			LastRotated: k.LastRotated.Format(time.RFC3339),
			ExpiresAt:   k.ExpiresAt.Format(time.RFC3339),
			Expired:     k.Expired(now),
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys. Use 'r1 key create' to create one.")
		return nil
	}

	fmt.Printf("%-36s %-16s %-25s %-8s\n", "ID", "USER", "EXPIRES", "EXPIRED")
	fmt.Printf("%-36s %-16s %-25s %-8s\n", "--", "----", "-------", "-------")
	for _, k := range rows {
		expired := "no"
		if k.Expired {
			expired = "yes"
		}
		fmt.Printf("%-36s %-16s %-25s %-8s\n", k.ID, k.User, k.ExpiresAt, expired)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <username>",
		Short: "Revoke all API keys belonging to a user",
		Long:  "Delete every key owned by the user, immediately invalidating signed requests made with them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(user string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	u, err := findUserByName(ctx, st, user)
	if err != nil {
		return err
	}

	n, err := st.DeleteAPIKeysByOwner(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("revoke api keys: %w", err)
	}

	if n == 0 {
		fmt.Printf("User %q has no API keys.\n", u.Username)
		return nil
	}
	fmt.Printf("Revoked %d API key(s) for user %q\n", n, u.Username)
	return nil
}
