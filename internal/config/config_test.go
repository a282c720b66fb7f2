package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	p := Defaults(ModePartitioned)
	require.Equal(t, 5, p.GridSize)
	require.Equal(t, 5, p.Workers)
	require.Equal(t, 5, p.QueueCapacity)
	require.Equal(t, 1, p.ChunkSize)
	require.Equal(t, 1, p.SkipLimit)

	s := Defaults(ModeSequential)
	require.Equal(t, ModeSequential, s.Mode)
	require.Equal(t, 1, s.GridSize)
	require.Equal(t, 3, s.ChunkSize)
	require.Equal(t, 1, s.SkipLimit)

	require.Equal(t, ModePartitioned, Defaults("").Mode)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "run.json", `{"input":"in.csv","output":"out.csv","gridSize":8,"queueCapacity":0,"skipLimit":0,"notify":{"url":"amqp://mq"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "in.csv", cfg.Input)
	require.Equal(t, 8, cfg.GridSize)
	require.Equal(t, 0, cfg.SkipLimit)
	require.Equal(t, 0, cfg.QueueCapacity)
	require.Equal(t, "amqp://mq", cfg.Notify.URL)

	_, err = Load(writeFile(t, "bad.json", `{"input":"in.csv","grid":3}`))
	require.Error(t, err)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "run.yaml", "input: in.csv\nmode: sequential\nheader: true\nupload:\n  host: ftp.local\n  path: /drop/out.csv\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeSequential, cfg.Mode)
	require.True(t, cfg.Header)
	require.Equal(t, -1, cfg.SkipLimit)
	require.Equal(t, -1, cfg.QueueCapacity)
	require.Equal(t, "ftp.local", cfg.Upload.Host)

	_, err = Load(writeFile(t, "bad.yml", "input: in.csv\nunknown: 1\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "run.toml", "input = 1"))
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := Defaults(ModePartitioned)
	over := Config{Input: "a.csv", GridSize: 3, QueueCapacity: -1, SkipLimit: -1, Header: true, Upload: Upload{Host: "ftp"}}
	out := Merge(base, over)
	require.Equal(t, "a.csv", out.Input)
	require.Equal(t, 3, out.GridSize)
	require.Equal(t, 1, out.SkipLimit)
	require.Equal(t, 5, out.QueueCapacity)
	require.True(t, out.Header)
	require.Equal(t, 21, out.Upload.Port)
	require.Equal(t, "ftp", out.Upload.Host)

	out = Merge(out, Config{SkipLimit: 0, QueueCapacity: 0})
	require.Equal(t, 0, out.SkipLimit)
	require.Equal(t, 0, out.QueueCapacity)
	require.NoError(t, Merge(out, Config{Input: "a.csv", Output: "b.csv", QueueCapacity: -1, SkipLimit: -1}).Validate())
}

func TestValidate(t *testing.T) {
	valid := Merge(Defaults(ModePartitioned), Config{Input: "in.csv", Output: "out.csv", QueueCapacity: -1, SkipLimit: -1})
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"no input":        func(c *Config) { c.Input = "" },
		"zero grid":       func(c *Config) { c.GridSize = 0 },
		"negative grid":   func(c *Config) { c.GridSize = -2 },
		"unknown mode":    func(c *Config) { c.Mode = "turbo" },
		"zero chunk":      func(c *Config) { c.ChunkSize = 0 },
		"negative queue":  func(c *Config) { c.QueueCapacity = -1 },
		"long separator":  func(c *Config) { c.Separator = ";;" },
		"quote separator": func(c *Config) { c.Separator = `"` },
		"cr separator":    func(c *Config) { c.Separator = "\r" },
		"lf separator":    func(c *Config) { c.Separator = "\n" },
		"upload, no file": func(c *Config) { c.Output = ""; c.Console = true; c.Upload.Host = "ftp" },
	}
	for name, mutate := range cases {
		c := valid
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}

	console := valid
	console.Output = ""
	console.Console = true
	require.NoError(t, console.Validate())
}

func TestSeparatorRune(t *testing.T) {
	require.Equal(t, ';', Config{Separator: ";"}.SeparatorRune())
	require.Equal(t, '\t', Config{Separator: "tab"}.SeparatorRune())
	require.Equal(t, '\t', Config{Separator: `\t`}.SeparatorRune())
	require.Equal(t, ',', Config{}.SeparatorRune())
}
