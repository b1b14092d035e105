// Package config wires pflag, viper and logrus together: flag registration,
// config-file discovery, env overrides and live reload of the log settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ChangeHandler func() error

var changeHandlers = map[string]ChangeHandler{}

// OnChange registers a handler invoked after the config file changes.
func OnChange(name string, handler ChangeHandler) {
	if _, exists := changeHandlers[name]; exists {
		log.WithField("handler", name).Warn("config change handler reassigned")
	}
	changeHandlers[name] = handler
}

func changed() {
	for name, handler := range changeHandlers {
		if err := handler(); err != nil {
			log.WithError(err).
				WithField("handler", name).
				Error("config handler failed")
		}
	}
}

var flagsOnce = sync.Once{}

func AddString(name, defVal, help string) {
	flag.String(name, defVal, help)
}

func AddStringP(name, shorthand, defVal, help string) {
	flag.StringP(name, shorthand, defVal, help)
}

func AddInt(name string, defVal int, help string) {
	flag.Int(name, defVal, help)
}

func AddBool(name string, defVal bool, help string) {
	flag.Bool(name, defVal, help)
}

func addVars() {
	AddString("log-level", defLogConfig.Level, "show logs at or above this level; choices: trace, debug, info, warn, error, fatal, panic")
	AddBool("log-text", true, "log in text format")
	AddBool("log-json", false, "log in json format")
}

// Load parses flags, reads the named config file (searched in /etc/<name>/,
// the user config dir and the working directory), binds the environment with
// a <NAME>_ prefix and starts watching the file for changes.
func Load(name string) error {
	defLogConfig.Set()

	flagsOnce.Do(addVars)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	flag.Parse()
	viper.SetEnvPrefix(name)
	viper.AutomaticEnv()

	viper.SetConfigName(name)
	viper.AddConfigPath(fmt.Sprintf("/etc/%s/", name))
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, name))
	}
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.WithField("name", name).Debug("no config file found, using flags and env")
			err = nil
		} else {
			log.WithError(err).
				WithField("file", viper.ConfigFileUsed()).
				Fatal("couldn't read config file")
		}
	}

	if berr := viper.BindPFlags(flag.CommandLine); berr != nil {
		return berr
	}
	setLogger()
	OnChange("log", setLogger)

	// Reload on config file changes. Options given on the command line are
	// not affected by file changes.
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.WithField("file", e.Name).Warn("config file changed")
			changed()
		})
	}
	return err
}
