// Package config loads options from the TOML file and THEIA_ environment
// variables and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/theia/internal/logging"
)

// EnvPrefix is prepended to the env tag of each option.
const EnvPrefix = "THEIA_"

// option is one settable field of an options struct.
type option struct {
	field    reflect.Value
	flag     string
	tomlPath string
	envKey   string
}

// options returns the exported fields of the struct v points to, except
// those set on the command line.
func options(v reflect.Value, changed map[string]bool) []option {
	t := v.Type()
	var out []option
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		o := option{
			field:    v.Field(i),
			flag:     fieldNameToFlag(sf.Name),
			tomlPath: sf.Tag.Get("toml"),
			envKey:   sf.Tag.Get("env"),
		}
		if changed[o.flag] {
			continue
		}
		out = append(out, o)
	}
	return out
}

// LoadConfig fills opts, a pointer to a flat options struct, with
// precedence CLI args > env vars > config file. A field named Config holds
// the file path; a missing file is not an error. When cmd is not nil,
// flags set on its command line are left alone.
//
// Every value that does not fit its field is reported; the remaining
// fields are still applied.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: options must be a pointer to a struct, got %T", opts)
	}
	v = v.Elem()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changed[f.Name] = true
			}
		})
	}
	opt := options(v, changed)

	var errs []error

	if path := v.FieldByName("Config"); path.IsValid() && path.Kind() == reflect.String && path.String() != "" {
		data, err := os.ReadFile(path.String())
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return fmt.Errorf("failed to read config: %w", err)
		default:
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}
			for _, o := range opt {
				if o.tomlPath == "" {
					continue
				}
				if value := getNestedValue(doc, o.tomlPath); value != nil {
					if err := setFieldValue(o.field, value); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", o.tomlPath, err))
					}
				}
			}
		}
	}

	for _, o := range opt {
		if o.envKey == "" {
			continue
		}
		key := EnvPrefix + o.envKey
		if value, ok := os.LookupEnv(key); ok && value != "" {
			if err := setFieldValueFromString(o.field, value); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	return errors.Join(errs...)
}

// fieldNameToFlag converts a struct field name to the kebab-case flag name
// humacli derives from it. Acronyms stay together.
// Example: "LoggingLevel" -> "logging-level", "ViewerJPEGQuality" ->
// "viewer-jpeg-quality".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getNestedValue retrieves a value from nested tables using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := data[part].(map[string]any)
		if !ok {
			return nil
		}
		data = next
	}
	return data[parts[len(parts)-1]]
}

// setFieldValue sets field from a decoded TOML value.
func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("want a string, got %T", value)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("want a boolean, got %T", value)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		switch i := value.(type) {
		case int64:
			field.SetInt(i)
		case int:
			field.SetInt(int64(i))
		default:
			return fmt.Errorf("want an integer, got %T", value)
		}
	case reflect.Float64:
		switch f := value.(type) {
		case float64:
			field.SetFloat(f)
		case int64:
			field.SetFloat(float64(f))
		default:
			return fmt.Errorf("want a number, got %T", value)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("want an array, got %T", value)
		}
		slice := make([]string, len(arr))
		for i, item := range arr {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("item %d: want a string, got %T", i, item)
			}
			slice[i] = s
		}
		field.Set(reflect.ValueOf(slice))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// setFieldValueFromString sets field from an environment value. Slices
// are comma separated.
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// LoadLogging reads the [logging] table of the config file. level and
// format are the global settings; every other string key, and every key of
// a [logging.modules] table, is a module level.
func LoadLogging(configPath string) (logging.Config, error) {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	var raw struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	for key, value := range raw.Logging {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}
	return cfg, nil
}

// LoadLoggingConfig is LoadLogging with the defaults returned when the file
// is missing or unreadable.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg, err := LoadLogging(configPath)
	if err != nil {
		return logging.Config{Level: "info", Format: "text", Modules: make(map[string]string)}
	}
	return cfg
}
