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

package param

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/pelicanplatform/rsempipeline/byte_size"
)

var (
	viperConfig atomic.Pointer[Config]
	configMutex sync.Mutex
)

// BindAllParameters binds all known configuration keys to environment variables.
//
// AllSettings() does not include env-only values unless the key is
// explicitly bound, so every known key is bound here to make env
// overrides visible in the decoded snapshot.
func BindAllParameters(v *viper.Viper) {
	if v == nil {
		return
	}

	for _, key := range allParameterNames {
		_ = v.BindEnv(key)
	}
}

// stringToSliceHookFunc splits comma separated strings so that list-valued
// keys such as InterestedOrganisms can be given through the environment.
func stringToSliceHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
		if f != reflect.String || t != reflect.Slice {
			return data, nil
		}

		raw := strings.Trim(data.(string), `"'`)
		if raw == "" {
			return []string{}, nil
		}

		result := []string{}
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.Trim(strings.TrimSpace(part), `"'`)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result, nil
	}
}

// stringToByteSizeHookFunc converts human-readable size strings ("50 GB")
// into byte_size.ByteSize values.  Bare numbers are accepted as bytes.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		byteSizeType := reflect.TypeOf(byte_size.ByteSize(0))
		if t != byteSizeType {
			return data, nil
		}

		switch value := data.(type) {
		case string:
			if strings.TrimSpace(value) == "" {
				return byte_size.ByteSize(0), nil
			}
			size, err := byte_size.ParseSize(value)
			if err != nil {
				return nil, err
			}
			return size, nil
		case int:
			return byte_size.ByteSize(value), nil
		case int64:
			return byte_size.ByteSize(value), nil
		case float64:
			return byte_size.ByteSize(value), nil
		}
		return data, nil
	}
}

// DecodeConfig decodes the provided viper instance into a new Config struct
// without touching the cached global snapshot.
func DecodeConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("nil viper instance")
	}
	BindAllParameters(v)
	newConfig := new(Config)
	settings := v.AllSettings()
	mergeKnownKeyOverrides(settings, v)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToSliceHookFunc(),
			stringToByteSizeHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
		Result: newConfig,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, err
	}
	return newConfig, nil
}

func mergeKnownKeyOverrides(settings map[string]any, v *viper.Viper) {
	if v == nil || settings == nil {
		return
	}

	for _, key := range allParameterNames {
		// Flag-bound values may be missing from AllSettings(); overlay them.
		val := v.Get(key)
		if val == nil {
			continue
		}
		setLowercasePath(settings, strings.Split(key, "."), val)
	}
}

func setLowercasePath(root map[string]any, path []string, val any) {
	if len(path) == 0 {
		return
	}

	m := root
	for i := 0; i < len(path)-1; i++ {
		k := strings.ToLower(path[i])
		if nextAny, ok := m[k]; ok {
			if nextMap, ok := nextAny.(map[string]any); ok {
				m = nextMap
				continue
			}
		}
		next := make(map[string]any)
		m[k] = next
		m = next
	}

	m[strings.ToLower(path[len(path)-1])] = val
}

// Refresh re-decodes the global viper instance into the cached Config.
// Anything that mutates viper directly should call Refresh afterwards.
func Refresh() (*Config, error) {
	configMutex.Lock()
	defer configMutex.Unlock()

	newConfig, err := DecodeConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	viperConfig.Store(newConfig)
	return newConfig, nil
}

// GetUnmarshaledConfig returns the cached config snapshot.
func GetUnmarshaledConfig() (*Config, error) {
	config := viperConfig.Load()
	if config == nil {
		return nil, errors.New("Config hasn't been unmarshaled yet.")
	}
	return config, nil
}

// Set sets a parameter in viper and refreshes the cached snapshot.
func Set(key string, value interface{}) error {
	return MultiSet(map[string]interface{}{key: value})
}

// MultiSet sets several parameters at once and refreshes the snapshot once.
func MultiSet(keyValues map[string]interface{}) error {
	for key, value := range keyValues {
		viper.Set(key, value)
	}
	_, err := Refresh()
	return err
}

// Reset clears viper and the cached snapshot; intended for unit tests.
func Reset() error {
	configMutex.Lock()
	defer configMutex.Unlock()

	viper.Reset()
	viperConfig.Store(nil)
	return nil
}
