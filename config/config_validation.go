/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package config

import (
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/pelicanplatform/rsempipeline/param"
)

// Keys that are bound from command line flags rather than configuration.
var flagOnlyKeys = map[string]bool{
	"config": true,
	"debug":  true,
}

// findFieldByTag searches for a field in a struct by the value of a tag.
func findFieldByTag(t reflect.Type, tagKey, tagValue string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get(tagKey)
		if tag == tagValue {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

// validateConfigKeys returns the configured keys that do not correspond to
// any field of param.Config, so typos in rp_config.yml get reported.
func validateConfigKeys() []string {
	possibleCfg := param.Config{}
	unknownKeys := []string{}
	keys := viper.AllKeys()

	// Env-only settings are not in AllKeys until they are bound.
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if strings.HasPrefix(parts[0], EnvPrefix+"_") {
			key := strings.SplitN(parts[0], "_", 2)[1]
			key = strings.ToLower(key)
			key = strings.ReplaceAll(key, "_", ".")
			keys = append(keys, key)
		}
	}

	configType := reflect.TypeOf(possibleCfg)

	for _, key := range keys {
		parts := strings.Split(key, ".")
		if flagOnlyKeys[parts[0]] {
			continue
		}
		currentType := configType

		for _, part := range parts {
			field, present := findFieldByTag(currentType, "mapstructure", part)
			if !present {
				unknownKeys = append(unknownKeys, key)
				break
			}

			// Only nested structs have further known keys; map keys such
			// as reference names are free-form.
			if field.Type.Kind() == reflect.Struct {
				currentType = field.Type
			} else {
				break
			}
		}
	}

	return unknownKeys
}
