package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/database"
	"github.com/relay-onprem/control-plane/internal/identity"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative account utilities",
}

var adminMakeAdminFlag bool

var createUserCmd = &cobra.Command{
	Use:   "create-user <email> <password>",
	Short: "Create an account directly, bypassing the registration toggle",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreateUser,
}

func init() {
	createUserCmd.Flags().BoolVar(&adminMakeAdminFlag, "admin", false, "grant admin privileges")
	adminCmd.AddCommand(createUserCmd)
	rootCmd.AddCommand(adminCmd)
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	email, password := args[0], args[1]

	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := cryptoutil.ValidatePassword(password, cfg.Auth.Password); err != nil {
		return fmt.Errorf("password does not meet policy: %w", err)
	}
	passwordHash, err := cryptoutil.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	store := identity.NewStore(db)
	user, err := store.CreateUser(cmd.Context(), email, passwordHash, adminMakeAdminFlag)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Printf("Created user %s (id=%s, admin=%v)\n", user.Email, user.ID, user.IsAdmin)
	return nil
}
