package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  `Opening the database already applies every pending migration; this command exists to do that without also starting the server.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	defer db.Close()

	fmt.Println("migrations applied")
	return nil
}
