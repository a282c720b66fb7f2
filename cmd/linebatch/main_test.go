package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func itemFile(t *testing.T, dir string, n int, bad map[int]bool) (string, []string) {
	path := filepath.Join(dir, "items.csv")
	lines := make([]string, 0, n)
	good := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if bad[i] {
			lines = append(lines, "oops")
			continue
		}
		line := fmt.Sprintf("n%d,o%d,%d,a,b,c,l%d,t,d", i, i, i, i)
		lines = append(lines, line)
		good = append(good, line)
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path, good
}

func readOutput(t *testing.T, path string) []string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRun_Modes(t *testing.T) {
	for _, mode := range []string{"sequential", "partitioned", "async"} {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			input, good := itemFile(t, dir, 17, map[int]bool{5: true})
			output := filepath.Join(dir, "out.csv")
			stderr := &bytes.Buffer{}
			code := run(context.Background(), []string{"--mode", mode, "--input", input, "--output", output, "--log-level", "error"}, &bytes.Buffer{}, stderr)
			require.Equal(t, exitOK, code, stderr.String())
			require.Equal(t, good, readOutput(t, output))
		})
	}
}

func TestRun_PartitionFailure(t *testing.T) {
	dir := t.TempDir()
	input, _ := itemFile(t, dir, 20, map[int]bool{1: true, 2: true})
	output := filepath.Join(dir, "out.csv")
	stderr := &bytes.Buffer{}
	code := run(context.Background(), []string{"--input", input, "--output", output, "--log-level", "error"}, &bytes.Buffer{}, stderr)
	require.Equal(t, exitFailed, code)
	require.Contains(t, stderr.String(), "partition1[0,4) status:FAILED")
	require.Contains(t, stderr.String(), "partition2[4,8) status:COMPLETED")
}

func TestRun_Console(t *testing.T) {
	dir := t.TempDir()
	input, good := itemFile(t, dir, 4, nil)
	stdout := &bytes.Buffer{}
	code := run(context.Background(), []string{"--mode", "sequential", "--input", input, "--console", "--log-level", "error"}, stdout, &bytes.Buffer{})
	require.Equal(t, exitOK, code)
	require.Equal(t, strings.Join(good, "\n")+"\n", stdout.String())
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	input, good := itemFile(t, dir, 9, nil)
	output := filepath.Join(dir, "out.csv")
	cfgPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("input: %s\noutput: %s\ngridSize: 3\nchecksum: MD5\nlogLevel: error\n", input, output)), 0644))
	code := run(context.Background(), []string{"--config", cfgPath}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Equal(t, exitOK, code)
	require.Equal(t, good, readOutput(t, output))
	_, err := os.Stat(output + ".md5")
	require.NoError(t, err)
}

func TestRun_Usage(t *testing.T) {
	stderr := &bytes.Buffer{}
	require.Equal(t, exitUsage, run(context.Background(), []string{"--output", "x.csv"}, &bytes.Buffer{}, stderr))
	require.Contains(t, stderr.String(), "input file is required")
	require.Equal(t, exitUsage, run(context.Background(), []string{"--input", "a", "--output", "b", "--grid-size", "-1"}, &bytes.Buffer{}, &bytes.Buffer{}))
	require.Equal(t, exitUsage, run(context.Background(), []string{"--bogus"}, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestParseConfig_QueueCapacity(t *testing.T) {
	cfg, err := parseConfig([]string{"--input", "a", "--output", "b", "--queue", "0"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, 0, cfg.QueueCapacity)

	cfg, err = parseConfig([]string{"--input", "a", "--output", "b"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, 5, cfg.QueueCapacity)

	cfgPath := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("input: a\noutput: b\nqueueCapacity: 0\n"), 0644))
	cfg, err = parseConfig([]string{"--config", cfgPath}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, 0, cfg.QueueCapacity)

	cfg, err = parseConfig([]string{"--config", cfgPath, "--queue", "2"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, 2, cfg.QueueCapacity)
}

func TestParseConfig_ReservedSeparator(t *testing.T) {
	for _, sep := range []string{`"`, "\r", "\n"} {
		_, err := parseConfig([]string{"--input", "a", "--output", "b", "--separator", sep}, &bytes.Buffer{})
		require.Error(t, err, "%q", sep)
	}
	require.Equal(t, exitUsage, run(context.Background(), []string{"--input", "a", "--output", "b", "--separator", `"`}, &bytes.Buffer{}, &bytes.Buffer{}))
}
