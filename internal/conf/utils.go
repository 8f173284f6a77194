// conf/utils.go
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cassavanet/cassavanet/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order. The first entry is where a default config is created.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	if runtime.GOOS == "windows" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "get-executable-path").
				Build()
		}
		return []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", "cassavanet"),
		}, nil
	}

	return []string{
		filepath.Join(homeDir, ".config", "cassavanet"),
		"/etc/cassavanet",
		".",
	}, nil
}

// BindFlags binds command flags to configuration keys so viper reflects
// command line overrides. keys maps a config key to a flag name; the flag may
// be local or persistent.
func BindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(name)
		}
		if f == nil {
			return fmt.Errorf("flag %q is not defined on %s", name, cmd.Name())
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
