package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	gethutils "github.com/ethereum/go-ethereum/cmd/utils"
	"github.com/ethereum/go-ethereum/node"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/alpha-project/alphad/alphanode/alphaconfig"
	"github.com/alpha-project/alphad/cmd/utils"
	"github.com/alpha-project/alphad/internal/flags"
	"github.com/alpha-project/alphad/internal/version"
)

var configFileFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "TOML configuration file",
	Category: flags.NetworkCategory,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type alphadConfig struct {
	Node  node.Config
	Alpha alphaconfig.Config
}

func loadConfigFile(file string, cfg *alphadConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func defaultNodeConfig() node.Config {
	git, _ := version.VCS()
	cfg := node.DefaultConfig
	cfg.Name = clientIdentifier
	cfg.Version = version.VersionWithCommit(git.Commit, git.Date)
	cfg.HTTPModules = append(cfg.HTTPModules, "alpha")
	cfg.WSModules = append(cfg.WSModules, "alpha")
	cfg.IPCPath = "alphad.ipc"
	return cfg
}

// loadBaseConfig loads the alphad configuration based on the given command
// line parameters and an optional config file.
func loadBaseConfig(ctx *cli.Context) alphadConfig {
	cfg := alphadConfig{
		Node:  defaultNodeConfig(),
		Alpha: alphaconfig.DefaultConfig,
	}

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			gethutils.Fatalf("%v", err)
		}
	}

	utils.SetNodeConfig(ctx, &cfg.Node)
	utils.SetAlphaConfig(ctx, &cfg.Alpha)
	return cfg
}

// makeConfigNode loads alphad configuration and creates a blank node
// instance, mirroring the teacher's makeConfigNode (minus the account-manager
// backend wiring, which Alpha has no use for: headers-only nodes carry no
// wallet/signing surface, spec §2 Non-goals).
func makeConfigNode(ctx *cli.Context) (*node.Node, alphadConfig) {
	cfg := loadBaseConfig(ctx)
	stack, err := node.New(&cfg.Node)
	if err != nil {
		gethutils.Fatalf("Failed to create the protocol stack: %v", err)
	}
	return stack, cfg
}
