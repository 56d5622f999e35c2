// Package seed loads declarative YAML fixtures: user accounts and an initial
// prompt catalog. Useful for demos, staging environments, and integration
// test setups.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/service"
	"github.com/r1hq/r1/internal/store"
)

// File is the top-level seed document.
type File struct {
	Users   []User   `yaml:"users"`
	Prompts []Prompt `yaml:"prompts"`
}

// User declares an account to create.
type User struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

// Prompt declares a catalog entry, keyed to its author by username.
type Prompt struct {
	Author string   `yaml:"author"`
	Title  string   `yaml:"title"`
	Body   string   `yaml:"body"`
	Tags   []string `yaml:"tags"`
}

// Load reads and parses a seed file. Environment variables referenced as
// ${VAR_NAME} in the file are expanded before parsing, so passwords can stay
// out of the document itself.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(content), &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Parse decodes a seed document from bytes, without env expansion.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed document: %w", err)
	}
	return &f, nil
}

// Apply creates the declared users and prompts. Users that already exist are
// left untouched; their declared prompts still attach to the existing
// account. Returns the number of users and prompts created.
func (f *File) Apply(ctx context.Context, st *store.Store, authSvc *service.AuthService) (usersCreated, promptsCreated int, err error) {
	ids := make(map[string]string, len(f.Users))

	for _, su := range f.Users {
		u, regErr := authSvc.Register(ctx, su.Username, su.Email, su.Password)
		if regErr != nil {
			if errors.Is(regErr, service.ErrUserExists) {
				existing, findErr := findByUsername(ctx, st, su.Username)
				if findErr != nil {
					return usersCreated, promptsCreated, findErr
				}
				ids[su.Username] = existing.ID
				continue
			}
			return usersCreated, promptsCreated, fmt.Errorf("seed user %q: %w", su.Username, regErr)
		}
		if su.Admin {
			if adminErr := st.SetUserAdmin(ctx, u.ID, true); adminErr != nil {
				return usersCreated, promptsCreated, fmt.Errorf("seed user %q: %w", su.Username, adminErr)
			}
		}
		ids[su.Username] = u.ID
		usersCreated++
	}

	for _, sp := range f.Prompts {
		authorID, ok := ids[sp.Author]
		if !ok {
			existing, findErr := findByUsername(ctx, st, sp.Author)
			if findErr != nil {
				return usersCreated, promptsCreated, fmt.Errorf("seed prompt %q: author %q not found", sp.Title, sp.Author)
			}
			authorID = existing.ID
			ids[sp.Author] = authorID
		}

		p := &model.Prompt{
			ID:       uuid.NewString(),
			AuthorID: authorID,
			Title:    sp.Title,
			Body:     sp.Body,
			Tags:     strings.Join(sp.Tags, ","),
		}
		if createErr := st.CreatePrompt(ctx, p); createErr != nil {
			return usersCreated, promptsCreated, fmt.Errorf("seed prompt %q: %w", sp.Title, createErr)
		}
		promptsCreated++
	}

	return usersCreated, promptsCreated, nil
}

func findByUsername(ctx context.Context, st *store.Store, username string) (*model.User, error) {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		if users[i].Username == username {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("user %q not found", username)
}
