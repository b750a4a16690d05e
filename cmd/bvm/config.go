package main

import (
	"bufio"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/bali-nebula/bvm/pkg/elements"
)

// bvmConfig is the TOML configuration for the command-line front end.
type bvmConfig struct {
	// RepositoryPath is the directory of the local document repository.
	// An empty path selects an ephemeral in-memory repository.
	RepositoryPath string

	// AccountTag identifies the account new tasks bill their gas to. An
	// empty tag generates a fresh account per invocation.
	AccountTag string

	// GasAllowance is the initial account balance of a new task.
	GasAllowance uint64

	// Trace enables per-instruction trace logging.
	Trace bool
}

func defaultConfig() bvmConfig {
	return bvmConfig{GasAllowance: 1024}
}

// These settings ensure that TOML keys use the same names as Go struct
// fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

func loadConfig(file string, cfg *bvmConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
}

func dumpConfig(cfg bvmConfig) error {
	return tomlSettings.NewEncoder(os.Stdout).Encode(cfg)
}

// accountTag resolves the configured account identity.
func (cfg bvmConfig) accountTag() elements.Tag {
	if cfg.AccountTag == "" {
		return elements.NewTag()
	}
	return elements.Tag(cfg.AccountTag)
}
