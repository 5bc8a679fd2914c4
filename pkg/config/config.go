// Package config binds command line flags to SKYSHIELD_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "SKYSHIELD"

// EnvName returns the environment variable that sets flag name.
func EnvName(name string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Bind makes every flag already defined on fs fall back to its environment
// variable. Flags given on the command line still win, since parsing happens later.
func Bind(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if berr := v.BindPFlag(f.Name, f); berr != nil {
			err = fmt.Errorf("failed to bind flag %s: %v", f.Name, berr)
			return
		}
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if serr := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); serr != nil {
				err = fmt.Errorf("invalid value for %s: %v", EnvName(f.Name), serr)
			}
		}
	})
	return v, err
}

// SetupLogging installs the default logger at the given level.
func SetupLogging(level string) error {
	parsed, err := log.ParseLogLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	log.SetDefaultLogger(log.New(os.Stdout, parsed))
	log.Info("Log level set to %s", parsed)
	return nil
}
