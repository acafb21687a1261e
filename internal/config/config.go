package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable named by an env tag.
const EnvPrefix = "CAMLOG_"

var durationType = reflect.TypeOf(time.Duration(0))

// binding ties one options field to its flag, TOML path and env variable.
type binding struct {
	field string
	flag  string
	toml  string
	env   string
	value reflect.Value
}

// LoadConfig fills opts, a pointer to a flat options struct, from the TOML
// file named by its Config field and from CAMLOG_* environment variables.
// Precedence is CLI flag > env > file > default: fields whose flag was set
// on cmd are left alone. Values that cannot be converted are reported
// together; the remaining fields are still applied.
func LoadConfig(opts any, cmd *cobra.Command) error {
	bindings, path, err := bind(opts)
	if err != nil {
		return err
	}
	changed := changedFlags(cmd)

	var result *multierror.Error

	if path != "" {
		table, readErr := readTable(path)
		if readErr != nil {
			return readErr
		}
		for _, b := range bindings {
			if b.toml == "" || changed[b.flag] {
				continue
			}
			raw := lookup(table, b.toml)
			if raw == nil {
				continue
			}
			if setErr := assign(b.value, raw); setErr != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %s: %w", path, b.toml, setErr))
			}
		}
	}

	for _, b := range bindings {
		if b.env == "" || changed[b.flag] {
			continue
		}
		raw, ok := os.LookupEnv(EnvPrefix + b.env)
		if !ok || raw == "" {
			continue
		}
		if setErr := assignString(b.value, raw); setErr != nil {
			result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, b.env, setErr))
		}
	}

	return result.ErrorOrNil()
}

func bind(opts any) ([]binding, string, error) {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return nil, "", fmt.Errorf("options must be a pointer to a struct, got %T", opts)
	}
	v = v.Elem()
	t := v.Type()

	var path string
	bindings := make([]binding, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Name == "Config" && sf.Type.Kind() == reflect.String {
			path = v.Field(i).String()
			continue
		}
		bindings = append(bindings, binding{
			field: sf.Name,
			flag:  flagNameOf(sf),
			toml:  sf.Tag.Get("toml"),
			env:   sf.Tag.Get("env"),
			value: v.Field(i),
		})
	}
	return bindings, path, nil
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

// readTable parses the config file. A missing file is not an error.
func readTable(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var table map[string]any
	if err := toml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return table, nil
}

// flagNameOf returns the CLI flag of a field: its name tag, or the kebab
// form of the field name. Fields named with acronyms (FPS, NatsURL) need
// the tag.
func flagNameOf(field reflect.StructField) string {
	if name := field.Tag.Get("name"); name != "" {
		return name
	}
	return fieldNameToFlag(field.Name)
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var b strings.Builder
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookup walks a dotted path ("journal.compression") through nested tables.
func lookup(table map[string]any, path string) any {
	var current any = table
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

// assign stores a decoded TOML value. Strings are accepted for durations.
func assign(field reflect.Value, raw any) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		switch val := raw.(type) {
		case string:
			return assignString(field, val)
		case int64:
			field.SetInt(val * int64(time.Millisecond))
			return nil
		}
		return mismatch(field, raw)
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return mismatch(field, raw)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return mismatch(field, raw)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, ok := raw.(int64)
		if !ok {
			return mismatch(field, raw)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, ok := raw.(int64)
		if !ok || n < 0 {
			return mismatch(field, raw)
		}
		field.SetUint(uint64(n))
	case reflect.Float64:
		switch n := raw.(type) {
		case float64:
			field.SetFloat(n)
		case int64:
			field.SetFloat(float64(n))
		default:
			return mismatch(field, raw)
		}
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			return mismatch(field, raw)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, isString := item.(string)
			if !isString {
				return mismatch(field, raw)
			}
			out = append(out, s)
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// assignString parses an environment value into the field's type.
// Slices are comma separated.
func assignString(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported field type %s", field.Type())
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func mismatch(field reflect.Value, raw any) error {
	return fmt.Errorf("cannot use %T value %v as %s", raw, raw, field.Type())
}
