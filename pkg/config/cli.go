/*
Copyright 2015 All rights reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/oleiade/reflections"
	"github.com/stoewer/go-strcase"
	"github.com/urfave/cli"
)

// EnvName returns the environment variables bound to a field, fields without
// an env tag use the prefixed upper snake case of their option name.
func EnvName(fieldName string) string {
	envName, err := reflections.GetFieldTag(Config{}, fieldName, "env")
	if err != nil {
		return ""
	}
	if envName != "" {
		return envName
	}

	optName, err := reflections.GetFieldTag(Config{}, fieldName, "yaml")
	if err != nil || optName == "" {
		return ""
	}

	return constant.EnvPrefix + strcase.UpperSnakeCase(optName)
}

// GetCommandLineOptions builds the command line flags from the usage tags of
// the configuration.
//
//nolint:cyclop
func GetCommandLineOptions() []cli.Flag {
	defaults := NewDefaultConfig()

	fields, err := reflections.Fields(defaults)
	if err != nil {
		panic(err)
	}

	var list []cli.Flag

	for _, fieldName := range fields {
		usage, _ := reflections.GetFieldTag(defaults, fieldName, "usage")
		if usage == "" {
			continue
		}

		optName, _ := reflections.GetFieldTag(defaults, fieldName, "yaml")
		envName := EnvName(fieldName)
		value, _ := reflections.GetField(defaults, fieldName)
		kind, _ := reflections.GetFieldKind(defaults, fieldName)

		switch kind {
		case reflect.Bool:
			list = append(list, cli.BoolFlag{
				Name:   optName,
				Usage:  fmt.Sprintf("%s (default: %t)", usage, value),
				EnvVar: envName,
			})
		case reflect.String:
			list = append(list, cli.StringFlag{
				Name:   optName,
				Usage:  usage,
				EnvVar: envName,
				Value:  value.(string),
			})
		case reflect.Int:
			list = append(list, cli.IntFlag{
				Name:   optName,
				Usage:  usage,
				EnvVar: envName,
				Value:  value.(int),
			})
		case reflect.Slice:
			fallthrough
		case reflect.Map:
			list = append(list, cli.StringSliceFlag{
				Name:   optName,
				Usage:  usage,
				EnvVar: envName,
			})
		case reflect.Int64:
			fieldType, _ := reflections.GetFieldType(defaults, fieldName)
			if fieldType == constant.DurationType {
				list = append(list, cli.DurationFlag{
					Name:   optName,
					Usage:  usage,
					EnvVar: envName,
					Value:  value.(time.Duration),
				})
			}
		default:
			panic("unknown type in the configuration " + fieldName)
		}
	}

	return list
}

// ParseCLIOptions copies every flag set on the command line, or through its
// environment variables, into the configuration.
func (r *Config) ParseCLIOptions(cx *cli.Context) error {
	fields, err := reflections.Fields(r)
	if err != nil {
		return err
	}

	for _, fieldName := range fields {
		optName, _ := reflections.GetFieldTag(r, fieldName, "yaml")
		if optName == "" || !cx.IsSet(optName) {
			continue
		}

		kind, _ := reflections.GetFieldKind(r, fieldName)

		var value interface{}

		switch kind {
		case reflect.Bool:
			value = cx.Bool(optName)
		case reflect.String:
			value = cx.String(optName)
		case reflect.Int:
			value = cx.Int(optName)
		case reflect.Slice:
			value = splitValues(cx.StringSlice(optName))
		case reflect.Int64:
			value = cx.Duration(optName)
		default:
			continue
		}

		if err := reflections.SetField(r, fieldName, value); err != nil {
			return fmt.Errorf("setting option %s: %w", optName, err)
		}
	}

	return nil
}

// splitValues accepts both repeated flags and comma separated values.
func splitValues(values []string) []string {
	var list []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
