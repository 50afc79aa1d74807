package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds flags to viper configuration keys. Flags that do not
// exist are skipped.
func bindFlags(flags *pflag.FlagSet, bindings map[string]string) {
	for flagName, configKey := range bindings {
		if flag := flags.Lookup(flagName); flag != nil {
			_ = viper.BindPFlag(configKey, flag)
		}
	}
}

// AddFlagValidation makes the flag reject values validator refuses while
// the command line is parsed.
func AddFlagValidation(flags *pflag.FlagSet, flagName string, validator func(string) error) {
	flag := flags.Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidateFormat accepts one of formats, case-insensitively.
func ValidateFormat(format string, formats []string) error {
	for _, f := range formats {
		if strings.EqualFold(format, f) {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q (supported: %s)", format, strings.Join(formats, ", "))
}
