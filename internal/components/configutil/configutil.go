package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// localName turns "dir/config.json5" into "dir/config.local.json5".
func localName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// mergeFile decodes the json5 file at path over out. It reports false when
// the file does not exist.
func mergeFile[T any](out *T, path string) (bool, error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return true, nil
	}

	var layer T
	err = json5.Unmarshal(contents, &layer)
	if err != nil {
		return true, fmt.Errorf("parse %s: %w", path, err)
	}
	err = mergo.Merge(out, layer, mergo.WithOverride)
	if err != nil {
		return true, fmt.Errorf("merge %s: %w", path, err)
	}
	return true, nil
}

// ReadConfig reads `name` (which must carry an extension) and then
// <name>.local.<ext> over it. Fields left empty in the local file keep their
// value. os.ErrNotExist is returned when neither file exists.
func ReadConfig[T any](name string) (T, error) {
	var out T

	found, err := mergeFile(&out, name)
	if err != nil {
		return out, err
	}

	local := localName(name)
	foundLocal, err := mergeFile(&out, local)
	if err != nil {
		return out, err
	}
	if foundLocal {
		slog.Info("merging config with local overrides", "local", local)
	}

	if !found && !foundLocal {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively calls ReadConfig in the cwd and then in every parent
// directory until a config is found.
func ReadRecursively[T any](name string) (T, error) {
	var out T

	dir, err := os.Getwd()
	if err != nil {
		return out, err
	}
	for {
		out, err = ReadConfig[T](filepath.Join(dir, name))
		if !errors.Is(err, os.ErrNotExist) {
			return out, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return out, os.ErrNotExist
		}
		dir = parent
	}
}

// ReadWithEnv layers configuration sources, later ones win:
//  1. the given defaults
//  2. <name>.<ext> and <name>.local.<ext> (see ReadConfig), if they exist
//  3. environment variables declared with `env` struct tags
//
// A missing file is not an error, the environment alone may be enough.
func ReadWithEnv[T any](name string, defaults T) (T, error) {
	out := defaults

	found, err := mergeFile(&out, name)
	if err != nil {
		return out, err
	}
	foundLocal, err := mergeFile(&out, localName(name))
	if err != nil {
		return out, err
	}
	if !found && !foundLocal {
		slog.Info("no config file found, using defaults and environment", "name", name)
	}

	err = env.Parse(&out)
	if err != nil {
		return out, fmt.Errorf("parse env: %w", err)
	}
	return out, nil
}
