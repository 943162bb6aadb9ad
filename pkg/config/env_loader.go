/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carverauto/posedge/pkg/logger"
)

var (
	ErrDstMustBePointerToStruct = errors.New("dst must be a non-nil pointer to a struct")
	errUnsupportedFieldKind     = errors.New("unsupported field kind")
	errInvalidEnvValue          = errors.New("invalid environment value")
)

const (
	// envPrefixVar overrides DefaultEnvPrefix.
	envPrefixVar = "CONFIG_ENV_PREFIX"
	// documentSuffix names the variable holding a whole JSON document.
	documentSuffix = "CONFIG_JSON"
)

// EnvConfigLoader reads configuration from the environment in one of two
// forms. <prefix>CONFIG_JSON holds the complete document and, when set,
// is the only thing read. Otherwise every json-tagged field maps to
// <prefix><TAG> upper-cased, nested sections joined with "_":
//
//	POSEDGE_REGISTRY_PATH=/etc/posedge/devices.json
//	POSEDGE_HEALTH_INTERVAL=15s
//	POSEDGE_PRINTING_ROLES=kitchen,bar
//	POSEDGE_LOGGING_OTEL_HEADERS=x-tenant=till-1,x-env=prod
//
// Unset variables leave fields untouched, and an optional section behind
// a pointer is only allocated when one of its variables is set.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader uses prefix, or CONFIG_ENV_PREFIX, or DefaultEnvPrefix,
// whichever is non-empty first.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	if prefix == "" {
		prefix = os.Getenv(envPrefixVar)
	}

	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	if log == nil {
		log = logger.FromZerolog(zerolog.Nop())
	}

	return &EnvConfigLoader{logger: log, prefix: prefix}
}

// Prefix is the resolved variable prefix.
func (e *EnvConfigLoader) Prefix() string { return e.prefix }

func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	if doc := os.Getenv(e.prefix + documentSuffix); doc != "" {
		if err := json.Unmarshal([]byte(doc), dst); err != nil {
			return fmt.Errorf("failed to decode %s%s: %w", e.prefix, documentSuffix, err)
		}

		e.logger.Info().Str("var", e.prefix+documentSuffix).Msg("Loaded configuration document from environment")

		return nil
	}

	n, err := e.loadStruct(v.Elem(), e.prefix)
	if err != nil {
		return err
	}

	e.logger.Info().Int("vars", n).Str("prefix", e.prefix).Msg("Loaded configuration from environment")

	return nil
}

// loadStruct returns how many variables were applied below v.
func (e *EnvConfigLoader) loadStruct(v reflect.Value, prefix string) (int, error) {
	t := v.Type()
	applied := 0

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		n, err := e.loadField(field, prefix+strings.ToUpper(name))
		if err != nil {
			return applied, err
		}

		applied += n
	}

	return applied, nil
}

func (e *EnvConfigLoader) loadField(field reflect.Value, name string) (int, error) {
	if value, ok := os.LookupEnv(name); ok && value != "" && decodable(field) {
		return 1, decode(field, name, value)
	}

	switch {
	case field.Kind() == reflect.Struct:
		return e.loadStruct(field, name+"_")
	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		return e.loadSection(field, name)
	}

	value := os.Getenv(name)
	if value == "" {
		return 0, nil
	}

	if err := setScalar(field, value); err != nil {
		return 0, fmt.Errorf("%w %s: %w", errInvalidEnvValue, name, err)
	}

	e.logger.Debug().Str("env", name).Msg("Loaded value from environment")

	return 1, nil
}

// loadSection fills an optional *struct section, keeping it nil when no
// variable under its name is set.
func (e *EnvConfigLoader) loadSection(field reflect.Value, name string) (int, error) {
	section := reflect.New(field.Type().Elem())
	if !field.IsNil() {
		section.Elem().Set(field.Elem())
	}

	n, err := e.loadStruct(section.Elem(), name+"_")
	if err != nil || n == 0 {
		return 0, err
	}

	field.Set(section)

	return n, nil
}

// decodable reports whether the field decodes itself, as models.Duration
// and models.Dialect do.
func decodable(field reflect.Value) bool {
	if !field.CanAddr() {
		return false
	}

	switch field.Addr().Interface().(type) {
	case encoding.TextUnmarshaler, json.Unmarshaler:
		return true
	}

	return false
}

func decode(field reflect.Value, name, value string) error {
	var err error

	switch u := field.Addr().Interface().(type) {
	case encoding.TextUnmarshaler:
		err = u.UnmarshalText([]byte(value))
	case json.Unmarshaler:
		err = u.UnmarshalJSON([]byte(strconv.Quote(value)))
	}

	if err != nil {
		return fmt.Errorf("%w %s: %w", errInvalidEnvValue, name, err)
	}

	return nil
}

func setScalar(field reflect.Value, value string) error {
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
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}

		field.SetInt(i)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%w: %s", errUnsupportedFieldKind, field.Type())
		}

		field.Set(reflect.ValueOf(splitList(value)).Convert(field.Type()))
	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%w: %s", errUnsupportedFieldKind, field.Type())
		}

		pairs, err := splitPairs(value)
		if err != nil {
			return err
		}

		field.Set(reflect.ValueOf(pairs).Convert(field.Type()))
	default:
		return fmt.Errorf("%w: %s", errUnsupportedFieldKind, field.Type())
	}

	return nil
}

// splitList parses "a, b,,c" as [a b c].
func splitList(value string) []string {
	var out []string

	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

// splitPairs parses "k=v,k2=v2", the same form as OTEL_EXPORTER_OTLP_*_HEADERS.
func splitPairs(value string) (map[string]string, error) {
	out := make(map[string]string)

	for _, item := range splitList(value) {
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", item)
		}

		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return out, nil
}
