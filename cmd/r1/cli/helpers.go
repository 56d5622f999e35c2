package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/r1hq/r1/internal/crypto"
	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/service"
	"github.com/r1hq/r1/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// R1_DATA_DIR env var, or ~/.r1 as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("R1_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.r1"
}

// resolveDSN returns the store DSN from config. An empty store.dsn falls back
// to an SQLite file in the data directory; a postgres:// DSN switches the
// store to the pgx driver.
func resolveDSN() (string, error) {
	if dsn := viper.GetString("store.dsn"); dsn != "" {
		return dsn, nil
	}
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(dir, "r1.db"), nil
}

// openStore opens the backing store per configuration.
func openStore() (*store.Store, error) {
	dsn, err := resolveDSN()
	if err != nil {
		return nil, err
	}
	return store.Open(dsn)
}

// newCipher builds the data-at-rest cipher from the configured key. The key
// is 64 hex characters (32 bytes) and is required for any command touching
// user records.
func newCipher() (*crypto.Cipher, error) {
	key := viper.GetString("crypto.data_key")
	if key == "" {
		return nil, fmt.Errorf("crypto.data_key is not set (64 hex chars; set R1_CRYPTO_DATA_KEY or the config file)")
	}
	return crypto.NewCipher(key)
}

// newAuthService wires an AuthService from configuration. CLI commands that
// only register or inspect users still go through the service so validation
// and email encryption stay in one place.
func newAuthService(st *store.Store) (*service.AuthService, error) {
	cipher, err := newCipher()
	if err != nil {
		return nil, err
	}
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		secret = "r1-dev-secret-change-me"
	}
	ttl := viper.GetDuration("auth.token_ttl")
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return service.NewAuthService(st, cipher, secret, ttl), nil
}

// findUserByName resolves a username (or a full user ID) to a user record.
func findUserByName(ctx context.Context, st *store.Store, name string) (*model.User, error) {
	if u, err := st.GetUserByID(ctx, name); err == nil {
		return u, nil
	}
	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		if users[i].Username == name {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("user %q not found", name)
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "r1.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "r1.log")
}
