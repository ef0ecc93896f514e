// Package interpolation expands ${VAR} and ${VAR:default} references
// against the process environment. The config loader runs it over every
// tagged field so secrets and paths never have to live in the TOML file.
package interpolation

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
)

// Captures the variable name, an optional colon, and the default value.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:)?([^}]*)\}`)

// Expand replaces every ${VAR} or ${VAR:default} reference in input.
// A reference without a default whose variable is unset is an error;
// ${VAR:} resolves to the empty string.
func Expand(input string) (string, error) {
	if input == "" {
		return "", nil
	}

	var missing []error
	result := refPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := refPattern.FindStringSubmatch(match)
		name, hasDefault, fallback := parts[1], parts[2] == ":", parts[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return fallback
		}
		missing = append(missing, fmt.Errorf("environment variable not defined: %s", name))
		return match
	})
	return result, errors.Join(missing...)
}

// Apply expands environment references in every field of v tagged with
// `env_interpolation:"yes"`, recursing through nested structs and
// slices. v must be a pointer to a struct.
func Apply(v any) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	return applyStruct(val.Elem())
}

func applyStruct(val reflect.Value) error {
	typ := val.Type()
	var errs []error

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !field.CanSet() {
			continue
		}

		tagged := strings.EqualFold(fieldType.Tag.Get("env_interpolation"), "yes")

		switch field.Kind() {
		case reflect.String:
			if !tagged || field.String() == "" {
				continue
			}
			expanded, err := Expand(field.String())
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", fieldType.Name, err))
				continue
			}
			field.SetString(expanded)

		case reflect.Slice:
			switch field.Type().Elem().Kind() {
			case reflect.String:
				if !tagged {
					continue
				}
				for j := 0; j < field.Len(); j++ {
					expanded, err := Expand(field.Index(j).String())
					if err != nil {
						errs = append(errs, fmt.Errorf("field %s[%d]: %w", fieldType.Name, j, err))
						continue
					}
					field.Index(j).SetString(expanded)
				}
			case reflect.Struct:
				for j := 0; j < field.Len(); j++ {
					if err := applyStruct(field.Index(j)); err != nil {
						errs = append(errs, fmt.Errorf("field %s[%d]: %w", fieldType.Name, j, err))
					}
				}
			}

		case reflect.Struct:
			if err := applyStruct(field); err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", fieldType.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
