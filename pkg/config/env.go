package lconfig

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
)

var parseFuncs = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(map[string]string{}): env.ParserFunc(func(v string) (interface{}, error) {
		ret := make(map[string]string)
		err := json.Unmarshal([]byte(v), &ret)
		return ret, err
	}),
}

// Parse fills v from the process environment. When CONFIG_DIR is set, each
// file under it contributes a variable named after the file; real environment
// variables win on conflict.
func Parse(v interface{}) error {
	opts := env.Options{}
	if configDirPath := os.Getenv("CONFIG_DIR"); configDirPath != "" {
		configDir, err := NewConfigDir(configDirPath)
		if err != nil {
			return err
		}
		opts.Environment, err = configDir.EnvironmentMap()
		if err != nil {
			return err
		}
		for _, existingEnv := range os.Environ() {
			name := strings.SplitN(existingEnv, "=", 2)[0]
			opts.Environment[name] = os.Getenv(name)
		}
	}
	return errors.WithStack(env.ParseWithFuncs(v, parseFuncs, opts))
}
