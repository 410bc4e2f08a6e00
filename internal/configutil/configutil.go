// Package configutil resolves settings that can arrive either as a CLI flag
// or as a config/env key. An explicitly set flag wins; otherwise the viper
// key is consulted; the flag default is the last resort.
package configutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetString(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetString(viperKey)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetString(flagName); err == nil {
			return v
		}
	}
	return ""
}

func FlagOrViperStringArray(cmd *cobra.Command, flagName, viperKey string) []string {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetStringArray(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetStringSlice(viperKey)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetStringArray(flagName); err == nil {
			return v
		}
	}
	return nil
}

func FlagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetBool(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetBool(viperKey)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetBool(flagName); err == nil {
			return v
		}
	}
	return false
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetInt(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetInt(viperKey)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetInt(flagName); err == nil {
			return v
		}
	}
	return 0
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetDuration(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetDuration(viperKey)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetDuration(flagName); err == nil {
			return v
		}
	}
	return 0
}

func FlagOrViperFloat64(cmd *cobra.Command, flagName, viperKey string) float64 {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetFloat64(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetFloat64(viperKey)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetFloat64(flagName); err == nil {
			return v
		}
	}
	return 0
}
