package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// bindConfig layers viper over cmd's flags: explicitly set flags win, then
// DISPATCHER_-prefixed environment variables, then a --config file, then
// the flags' own defaults (viper's fixed precedence order). This is
// the same precedence the teacher's sibling repos in the retrieval pack use
// viper for; the teacher itself had no config layer at all.
func bindConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DISPATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}
