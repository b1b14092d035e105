package config

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type LogConfig struct {
	Level  string
	JSON   bool
	Text   bool
	Output io.Writer
}

var defLogConfig = LogConfig{
	Level:  "info",
	Text:   true,
	Output: os.Stderr,
}

func (lc LogConfig) SetLevel() {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		log.WithError(err).
			WithFields(log.Fields{"level": lc.Level, "default": defLogConfig.Level}).
			Info("using default log level")
		level, _ = log.ParseLevel(defLogConfig.Level)
	}
	log.SetLevel(level)
}

func (lc *LogConfig) SetFormat() {
	if lc.JSON {
		log.SetFormatter(&log.JSONFormatter{})
		lc.Text = false
		return
	}
	log.SetFormatter(&log.TextFormatter{})
	lc.JSON = false
}

func (lc LogConfig) Set() {
	lc.SetFormat()
	lc.SetLevel()
	log.SetOutput(lc.Output)
}

// error return is for compatibility with ChangeHandler
func setLogger() error {
	LogConfig{
		Level:  viper.GetString("log-level"),
		JSON:   viper.GetBool("log-json"),
		Text:   viper.GetBool("log-text"),
		Output: os.Stderr,
	}.Set()
	return nil
}
