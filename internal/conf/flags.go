package conf

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tphakala/motioncam/internal/errors"
)

// BindFlags binds command line flags to viper keys so flags take precedence over the
// config file. keys maps flag name to config key.
func BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return errors.Newf("unknown flag %q", name).
				Component("config").
				Category(errors.CategoryConfiguration).
				Context("key", key).
				Build()
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return errors.New(err).
				Component("config").
				Category(errors.CategoryConfiguration).
				Context("flag", name).
				Context("key", key).
				Build()
		}
	}
	return nil
}
