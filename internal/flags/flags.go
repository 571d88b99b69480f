// Copyright 2015 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// Package flags contains the alphad command line flag groupings and a few
// cli.Flag implementations with home-directory expansion ("~/...") and
// environment-variable support.
package flags

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

// Flag category names, displayed as section headers in --help output.
const (
	NetworkCategory = "ALPHA NETWORK"
	LoggingCategory = "LOGGING AND DEBUGGING"
	APICategory     = "API AND CONSOLE"
	P2PCategory     = "NETWORKING"
	MetricsCategory = "METRICS"
	MiscCategory    = "MISC"
)

// NewApp creates an app with sane defaults.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = usage
	return app
}

// HomeDir returns the current user's home directory, or "" if undiscoverable.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// expandPath expands a leading "~" to the current user's home directory and
// expands environment variables, matching the convention every alphad path
// flag uses for --datadir and friends.
func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") || p == "~" {
		if home := HomeDir(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}

// DirectoryString is a string that expands "~" and env vars on Set, so it
// can back a DirectoryFlag's Value.
type DirectoryString string

func (s *DirectoryString) String() string { return string(*s) }

func (s *DirectoryString) Set(value string) error {
	*s = DirectoryString(expandPath(value))
	return nil
}

// DirectoryFlag is a cli.Flag for directory paths, expanding "~" on parse.
type DirectoryFlag struct {
	Name     string
	Category string
	Usage    string
	EnvVars  []string
	Value    DirectoryString

	defaultValue DirectoryString
	HasBeenSet   bool
}

func (f *DirectoryFlag) Names() []string     { return []string{f.Name} }
func (f *DirectoryFlag) IsSet() bool         { return f.HasBeenSet }
func (f *DirectoryFlag) String() string      { return cli.FlagStringer(f) }
func (f *DirectoryFlag) TakesValue() bool    { return true }
func (f *DirectoryFlag) GetUsage() string    { return f.Usage }
func (f *DirectoryFlag) GetCategory() string { return f.Category }
func (f *DirectoryFlag) GetValue() string    { return f.Value.String() }
func (f *DirectoryFlag) GetEnvVars() []string { return f.EnvVars }
func (f *DirectoryFlag) IsVisible() bool     { return true }
func (f *DirectoryFlag) IsRequired() bool    { return false }

func (f *DirectoryFlag) GetDefaultText() string {
	if f.defaultValue != "" {
		return f.defaultValue.String()
	}
	return ""
}

func (f *DirectoryFlag) Apply(set *flag.FlagSet) error {
	f.defaultValue = f.Value
	for _, envVar := range f.EnvVars {
		if v := os.Getenv(envVar); v != "" {
			f.Value = DirectoryString(expandPath(v))
			f.HasBeenSet = true
			break
		}
	}
	set.Var(&f.Value, f.Name, f.Usage)
	return nil
}

// BigFlag is a cli.Flag for *big.Int values, accepting decimal or 0x-prefixed
// hex, with environment-variable support. Used by numeric flags that can
// exceed int64 range (e.g. a future difficulty or work override).
type BigFlag struct {
	Name     string
	Category string
	Usage    string
	EnvVars  []string
	Value    *big.Int

	defaultValue *big.Int
	HasBeenSet   bool
}

func (f *BigFlag) Names() []string     { return []string{f.Name} }
func (f *BigFlag) IsSet() bool         { return f.HasBeenSet }
func (f *BigFlag) String() string      { return cli.FlagStringer(f) }
func (f *BigFlag) TakesValue() bool    { return true }
func (f *BigFlag) GetUsage() string    { return f.Usage }
func (f *BigFlag) GetCategory() string { return f.Category }
func (f *BigFlag) IsVisible() bool     { return true }
func (f *BigFlag) IsRequired() bool    { return false }
func (f *BigFlag) GetEnvVars() []string { return f.EnvVars }

func (f *BigFlag) GetValue() string {
	if f.Value == nil {
		return ""
	}
	return f.Value.String()
}

func (f *BigFlag) GetDefaultText() string {
	if f.defaultValue == nil {
		return ""
	}
	return f.defaultValue.String()
}

// bigValue implements flag.Value over a *big.Int, accepting decimal or
// 0x-prefixed hex input via (*big.Int).SetString base 0.
type bigValue struct{ *big.Int }

func (b bigValue) Set(s string) error {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return fmt.Errorf("invalid integer %q", s)
	}
	*b.Int = *n
	return nil
}

func (f *BigFlag) Apply(set *flag.FlagSet) error {
	if f.Value == nil {
		f.Value = new(big.Int)
	}
	f.defaultValue = new(big.Int).Set(f.Value)
	for _, envVar := range f.EnvVars {
		if v := os.Getenv(envVar); v != "" {
			if n, ok := new(big.Int).SetString(v, 0); ok {
				f.Value = n
				f.HasBeenSet = true
			}
			break
		}
	}
	set.Var(bigValue{f.Value}, f.Name, f.Usage)
	return nil
}

// GlobalBig looks up a *big.Int flag by name on the given context.
func GlobalBig(ctx *cli.Context, name string) *big.Int {
	val := ctx.Generic(name)
	if val == nil {
		return nil
	}
	if bv, ok := val.(bigValue); ok {
		return bv.Int
	}
	return nil
}
