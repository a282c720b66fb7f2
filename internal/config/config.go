// Package config holds the settings of the linebatch command: defaults per mode, JSON/YAML
// files and command line overrides.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	ModeSequential  = "sequential"
	ModePartitioned = "partitioned"
	ModeAsync       = "async"
)

// Config settings of one run. Zero values mean "not set" in Merge, except QueueCapacity and SkipLimit where -1 does.
type Config struct {
	Input          string `json:"input" yaml:"input"`
	Output         string `json:"output" yaml:"output"`
	Mode           string `json:"mode" yaml:"mode"`
	GridSize       int    `json:"gridSize" yaml:"gridSize"`
	Workers        int    `json:"workers" yaml:"workers"`
	QueueCapacity  int    `json:"queueCapacity" yaml:"queueCapacity"`
	ChunkSize      int    `json:"chunkSize" yaml:"chunkSize"`
	SkipLimit      int    `json:"skipLimit" yaml:"skipLimit"`
	Separator      string `json:"separator" yaml:"separator"`
	Header         bool   `json:"header" yaml:"header"`
	Checksum       string `json:"checksum" yaml:"checksum"`
	AbortOnFailure bool   `json:"abortOnFailure" yaml:"abortOnFailure"`
	AsyncWorkers   int    `json:"asyncWorkers" yaml:"asyncWorkers"`
	LogLevel       string `json:"logLevel" yaml:"logLevel"`
	Console        bool   `json:"console" yaml:"console"`
	Notify         Notify `json:"notify" yaml:"notify"`
	Upload         Upload `json:"upload" yaml:"upload"`
	DSN            string `json:"dsn" yaml:"dsn"`
}

// Notify RabbitMQ exchange receiving job outcomes, disabled without URL
type Notify struct {
	URL        string `json:"url" yaml:"url"`
	Exchange   string `json:"exchange" yaml:"exchange"`
	RoutingKey string `json:"routingKey" yaml:"routingKey"`
}

// Upload FTP server the output is copied to, disabled without Host
type Upload struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Path     string `json:"path" yaml:"path"`
}

// Defaults settings of a mode, an unknown or empty mode gets the partitioned ones
func Defaults(mode string) Config {
	cfg := Config{
		Mode:          ModePartitioned,
		GridSize:      5,
		Workers:       5,
		QueueCapacity: 5,
		ChunkSize:     1,
		SkipLimit:     1,
		Separator:     ",",
		AsyncWorkers:  4,
		LogLevel:      "info",
		Notify:        Notify{RoutingKey: "linebatch.job"},
		Upload:        Upload{Port: 21},
	}
	switch mode {
	case ModeSequential:
		cfg.Mode = ModeSequential
		cfg.GridSize = 1
		cfg.ChunkSize = 3
	case ModeAsync:
		cfg.Mode = ModeAsync
		cfg.GridSize = 1
		cfg.ChunkSize = 3
	}
	return cfg
}

// Load reads a .json file (unknown fields rejected) or a .yaml/.yml file (unknown fields rejected).
// QueueCapacity and SkipLimit are -1 when the file does not set them.
func Load(path string) (Config, error) {
	cfg := Config{QueueCapacity: -1, SkipLimit: -1}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config file:%v", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err = dec.Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config file:%v", path)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config file:%v", path)
		}
	default:
		return cfg, errors.Errorf("unsupported config file type:%v", path)
	}
	return cfg, nil
}

// Merge overrides base with the values set in over
func Merge(base, over Config) Config {
	out := base
	if over.Input != "" {
		out.Input = over.Input
	}
	if over.Output != "" {
		out.Output = over.Output
	}
	if over.Mode != "" {
		out.Mode = over.Mode
	}
	if over.GridSize != 0 {
		out.GridSize = over.GridSize
	}
	if over.Workers != 0 {
		out.Workers = over.Workers
	}
	if over.QueueCapacity >= 0 {
		out.QueueCapacity = over.QueueCapacity
	}
	if over.ChunkSize != 0 {
		out.ChunkSize = over.ChunkSize
	}
	// 0 disables skipping, -1 leaves it alone
	if over.SkipLimit >= 0 {
		out.SkipLimit = over.SkipLimit
	}
	if over.Separator != "" {
		out.Separator = over.Separator
	}
	if over.Checksum != "" {
		out.Checksum = over.Checksum
	}
	if over.AsyncWorkers != 0 {
		out.AsyncWorkers = over.AsyncWorkers
	}
	if strings.TrimSpace(over.LogLevel) != "" {
		out.LogLevel = strings.TrimSpace(over.LogLevel)
	}
	if over.DSN != "" {
		out.DSN = over.DSN
	}
	out.Header = out.Header || over.Header
	out.AbortOnFailure = out.AbortOnFailure || over.AbortOnFailure
	out.Console = out.Console || over.Console

	if over.Notify.URL != "" {
		out.Notify.URL = over.Notify.URL
	}
	if over.Notify.Exchange != "" {
		out.Notify.Exchange = over.Notify.Exchange
	}
	if over.Notify.RoutingKey != "" {
		out.Notify.RoutingKey = over.Notify.RoutingKey
	}
	if over.Upload.Host != "" {
		out.Upload.Host = over.Upload.Host
	}
	if over.Upload.Port != 0 {
		out.Upload.Port = over.Upload.Port
	}
	if over.Upload.User != "" {
		out.Upload.User = over.Upload.User
	}
	if over.Upload.Password != "" {
		out.Upload.Password = over.Upload.Password
	}
	if over.Upload.Path != "" {
		out.Upload.Path = over.Upload.Path
	}
	return out
}

// SeparatorRune the field separator, "\t" and "tab" select a tab
func (c Config) SeparatorRune() rune {
	switch c.Separator {
	case "\\t", "\t", "tab":
		return '\t'
	}
	r := []rune(c.Separator)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	switch {
	case c.Input == "":
		return errors.New("input file is required")
	case c.Output == "" && !c.Console:
		return errors.New("output file is required unless writing to the console")
	case c.Mode != ModeSequential && c.Mode != ModePartitioned && c.Mode != ModeAsync:
		return errors.Errorf("unknown mode:%q", c.Mode)
	case c.GridSize <= 0:
		return errors.Errorf("gridSize must be positive, got %d", c.GridSize)
	case c.Workers <= 0:
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	case c.QueueCapacity < 0:
		return errors.Errorf("queueCapacity must not be negative, got %d", c.QueueCapacity)
	case c.ChunkSize <= 0:
		return errors.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	case c.SkipLimit < 0:
		return errors.Errorf("skipLimit must not be negative, got %d", c.SkipLimit)
	case len([]rune(c.Separator)) > 1 && c.SeparatorRune() != '\t':
		return errors.Errorf("separator must be a single character, got %q", c.Separator)
	case strings.ContainsRune("\"\r\n", c.SeparatorRune()):
		return errors.Errorf("separator %q is reserved for quoting and line breaks", c.Separator)
	case c.Mode == ModeAsync && c.AsyncWorkers <= 0:
		return errors.Errorf("asyncWorkers must be positive in async mode, got %d", c.AsyncWorkers)
	case c.Upload.Host != "" && c.Output == "":
		return errors.New("upload needs an output file")
	}
	return nil
}
