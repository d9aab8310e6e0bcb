package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/afero"
	"github.com/titanous/json5"
)

// Defaulter is implemented by configuration structs that fill in their zero fields after
// every file has been merged.
type Defaulter interface {
	SetDefaults()
}

func localName(name string) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s.local%s", strings.TrimSuffix(name, ext), ext)
}

func readOptional(fs afero.Fs, name string) ([]byte, error) {
	contents, err := afero.ReadFile(fs, name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return contents, err
}

// ReadConfig reads a configuration file, `name` should come with a file extension.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
//
// os.ErrNotExist is returned when neither exists.
func ReadConfig[T any](name string) (T, error) {
	return ReadConfigFs[T](afero.NewOsFs(), name)
}

// ReadConfigFs is ReadConfig over an arbitrary filesystem.
func ReadConfigFs[T any](fs afero.Fs, name string) (T, error) {
	var out T

	defaultFile, err := readOptional(fs, name)
	if err != nil {
		return out, err
	}
	if len(defaultFile) > 0 {
		err = json5.Unmarshal(defaultFile, &out)
		if err != nil {
			return out, fmt.Errorf("%s: %w", name, err)
		}
	}

	localFilepath := localName(name)
	localFile, err := readOptional(fs, localFilepath)
	if err != nil {
		return out, err
	}
	if len(localFile) > 0 {
		var override T
		err = json5.Unmarshal(localFile, &override)
		if err != nil {
			return out, fmt.Errorf("%s: %w", localFilepath, err)
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localFilepath)
	}

	if len(defaultFile) == 0 && len(localFile) == 0 {
		return out, os.ErrNotExist
	}

	if defaulter, ok := any(&out).(Defaulter); ok {
		defaulter.SetDefaults()
	}
	return out, nil
}
