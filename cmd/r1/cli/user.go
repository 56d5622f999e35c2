package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create, list, promote, and delete user accounts directly against the store.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserPromoteCmd())
	cmd.AddCommand(newUserDeleteCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user account",
		Example: `  r1 user create --username alice --email alice@example.com
  r1 user create --username root --email ops@example.com --admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(username, email, password, admin)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin flag")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(username, email, password string, admin bool) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	authSvc, err := newAuthService(st)
	if err != nil {
		return err
	}

	ctx := context.Background()
	u, err := authSvc.Register(ctx, username, email, password)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if admin {
		if err := st.SetUserAdmin(ctx, u.ID, true); err != nil {
			return fmt.Errorf("grant admin: %w", err)
		}
	}

	fmt.Printf("Created user %q (%s)\n", username, u.ID)
	if admin {
		fmt.Println("  admin: yes")
	}
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	authSvc, err := newAuthService(st)
	if err != nil {
		return err
	}

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	type userRow struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		Admin     bool   `json:"admin"`
		LastLogin string `json:"last_login,omitempty"`
	}

	rows := make([]userRow, len(users))
	for i := range users {
		u := &users[i]
		email, err := authSvc.RevealEmail(u)
		if err != nil {
			email = "(undecryptable)"
		}
		row := userRow{
			ID:       u.ID,
			Username: u.Username,
			Email:    email,
			Admin:    u.IsAdmin,
		}
		if u.LastLoginAt != nil {
			row.LastLogin = u.LastLoginAt.Format(time.RFC3339)
		}
		rows[i] = row
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No users registered. Use 'r1 user create' to create one.")
		return nil
	}

	fmt.Printf("%-36s %-16s %-30s %-6s\n", "ID", "USERNAME", "EMAIL", "ADMIN")
	fmt.Printf("%-36s %-16s %-30s %-6s\n", "--", "--------", "-----", "-----")
	for _, u := range rows {
		admin := "no"
		if u.Admin {
			admin = "yes"
		}
		fmt.Printf("%-36s %-16s %-30s %-6s\n", u.ID, u.Username, u.Email, admin)
	}

	return nil
}

// ---------- user promote ----------

func newUserPromoteCmd() *cobra.Command {
	var demote bool

	cmd := &cobra.Command{
		Use:   "promote <username>",
		Short: "Grant the admin flag to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserPromote(args[0], !demote)
		},
	}

	cmd.Flags().BoolVar(&demote, "revoke", false, "Revoke the admin flag instead")

	return cmd
}

func runUserPromote(username string, admin bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	u, err := findUserByName(ctx, st, username)
	if err != nil {
		return err
	}

	if err := st.SetUserAdmin(ctx, u.ID, admin); err != nil {
		return fmt.Errorf("set admin flag: %w", err)
	}

	if admin {
		fmt.Printf("User %q is now an admin.\n", username)
	} else {
		fmt.Printf("User %q is no longer an admin.\n", username)
	}
	return nil
}

// ---------- user delete ----------

func newUserDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user account",
		Long:  "Delete a user along with their API keys, prompts, and votes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserDelete(args[0])
		},
	}

	return cmd
}

func runUserDelete(username string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	u, err := findUserByName(ctx, st, username)
	if err != nil {
		return err
	}

	if err := st.DeleteUser(ctx, u.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	fmt.Printf("Deleted user %q\n", username)
	return nil
}
