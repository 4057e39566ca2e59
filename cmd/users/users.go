package users

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/config"
	"github.com/terraconstructs/fhirapi/internal/db/bunx"
	"github.com/terraconstructs/fhirapi/internal/repository"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

// UsersCmd is the parent command for local user management
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage local login users",
	Long:  `Commands for managing the users that can log in to the API, directly against the database.`,
}

// Configure hands the loaded configuration to the subcommands. The root
// command calls it before any subcommand runs.
func Configure(c *config.Config, l *zap.Logger) {
	cfg = c
	if l != nil {
		logger = l
	}
}

// withAuthenticator opens the database and runs fn with an authenticator
// bound to the user table.
func withAuthenticator(fn func(*auth.Authenticator, repository.UserRepository) error) error {
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.PoolFromConfig(cfg.DB))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer bunx.Close(db)

	users := repository.NewBunUserRepository(db)
	issuer := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
	return fn(auth.NewAuthenticator(users, issuer, logger), users)
}

func init() {
	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(seedDemoCmd)
}
