package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsteinwert/csserver/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample csserver configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/csserver/csserver.yaml. Use --config to specify a
custom path.

Examples:
  # Initialize with default location
  csserver init

  # Initialize with custom path
  csserver init --config /etc/csserver/csserver.yaml

  # Force overwrite existing config
  csserver init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to set cert/key paths and the data directory")
	fmt.Println("  2. Create an admin account: csserver account create --username admin --email admin@example.com")
	fmt.Println("  3. Start the server with: csserver serve")
	fmt.Printf("     Or specify a custom config: csserver serve --config %s\n", configPath)

	return nil
}
