package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/r1hq/r1/internal/seed"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load users and prompts from a YAML seed file",
		Long: `Load a declarative YAML document of user accounts and prompts into the
store. Existing users are left untouched. Environment variables referenced
as ${VAR_NAME} in the file are expanded before parsing.`,
		Example: `  r1 seed fixtures/demo.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(args[0])
		},
	}

	return cmd
}

func runSeed(path string) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
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

	users, prompts, err := f.Apply(context.Background(), st, authSvc)
	if err != nil {
		return err
	}

	fmt.Printf("Seeded %d user(s) and %d prompt(s) from %s\n", users, prompts, path)
	return nil
}
