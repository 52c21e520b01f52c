package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Override keys shared by flags and DISKSAN_* environment variables.
const (
	KeyProfile     = "profile"
	KeyMaxAttempts = "max-attempts"
	KeySamples     = "samples"
	KeySeed        = "seed"
	KeyOutputDir   = "output-dir"
	KeyFormat      = "format"
	KeyATAPassword = "ata-password"
	KeyLogLevel    = "log-level"
	KeyLogFile     = "log-file"
	KeyNoDiscard   = "no-discard"
	KeyPasses      = "passes"
)

// NewOverrides binds flags and the DISKSAN_ environment prefix.
func NewOverrides(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DISKSAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ApplyOverrides copies every explicitly set key onto cfg and revalidates.
// Unset keys leave the file or default value untouched.
func ApplyOverrides(cfg *Config, v *viper.Viper) error {
	if v.IsSet(KeyProfile) && v.GetString(KeyProfile) != "" {
		if err := ApplyProfile(cfg, v.GetString(KeyProfile)); err != nil {
			return err
		}
	}
	if v.IsSet(KeyMaxAttempts) {
		cfg.Erase.MaxAttempts = v.GetInt(KeyMaxAttempts)
	}
	if v.IsSet(KeyPasses) {
		cfg.Erase.OverwritePasses = v.GetInt(KeyPasses)
	}
	if v.IsSet(KeyNoDiscard) && v.GetBool(KeyNoDiscard) {
		cfg.Erase.EnableDiscard = false
	}
	if v.IsSet(KeySamples) {
		cfg.Verify.Samples = v.GetInt(KeySamples)
	}
	if v.IsSet(KeySeed) {
		cfg.Verify.Seed = v.GetUint64(KeySeed)
	}
	if v.IsSet(KeyOutputDir) {
		cfg.Reporting.OutputDir = v.GetString(KeyOutputDir)
	}
	if v.IsSet(KeyFormat) {
		cfg.Reporting.Format = strings.ToLower(v.GetString(KeyFormat))
	}
	if v.IsSet(KeyATAPassword) {
		cfg.Erase.ATAPassword = v.GetString(KeyATAPassword)
	}
	if v.IsSet(KeyLogLevel) {
		cfg.Logging.Level = strings.ToUpper(v.GetString(KeyLogLevel))
	}
	if v.IsSet(KeyLogFile) {
		cfg.Logging.File = v.GetString(KeyLogFile)
	}
	return Validate(cfg)
}
