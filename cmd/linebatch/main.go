// Command linebatch splits a delimited item file into line ranges and copies it through a chunked
// read, process and write pipeline, sequentially or with partitions on a bounded worker pool.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chararch/linebatch"
	"github.com/chararch/linebatch/file"
	"github.com/chararch/linebatch/internal/config"
	"github.com/chararch/linebatch/internal/logs"
	"github.com/chararch/linebatch/notify"
	"github.com/chararch/linebatch/record"
	"github.com/chararch/linebatch/status"
	"github.com/chararch/linebatch/util"
	_ "github.com/go-sql-driver/mysql"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
	jobName    = "linebatch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "linebatch: %v\n", err)
		return exitUsage
	}
	level := logs.ParseLevel(cfg.LogLevel)
	linebatch.SetLogger(logs.NewSlogLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level.SlogLevel()}))))

	if cfg.DSN != "" {
		db, err := openDB(ctx, cfg.DSN)
		if err != nil {
			fmt.Fprintf(stderr, "linebatch: %v\n", err)
			return exitFailed
		}
		defer db.Close()
		linebatch.SetDB(db)
	}

	listeners := []interface{}{&linebatch.JobProfiler{}}
	if cfg.Notify.URL != "" {
		conn, ch, err := notify.Dial(&notify.ConnectionConfig{URL: cfg.Notify.URL})
		if err != nil {
			fmt.Fprintf(stderr, "linebatch: %v\n", err)
			return exitFailed
		}
		defer conn.Close()
		publisher, err := notify.NewPublisher(ch, cfg.Notify.Exchange, cfg.Notify.RoutingKey, logs.NewSlogLogger(slog.New(slog.NewTextHandler(stderr, nil))))
		if err != nil {
			fmt.Fprintf(stderr, "linebatch: %v\n", err)
			return exitFailed
		}
		listeners = append(listeners, publisher)
	}

	job := buildJob(cfg, stdout, listeners...)
	if err = linebatch.Register(job); err != nil {
		fmt.Fprintf(stderr, "linebatch: %v\n", err)
		return exitFailed
	}
	defer linebatch.Unregister(job)

	params, err := util.JsonString(map[string]interface{}{
		"input":  cfg.Input,
		"output": cfg.Output,
		"mode":   cfg.Mode,
	})
	if err != nil {
		fmt.Fprintf(stderr, "linebatch: %v\n", err)
		return exitFailed
	}
	id, err := linebatch.Start(ctx, job.Name(), params)
	if err != nil {
		fmt.Fprintf(stderr, "linebatch: %v\n", err)
		return exitFailed
	}
	execution, err := linebatch.FindJobExecution(context.Background(), id)
	if err != nil {
		fmt.Fprintf(stderr, "linebatch: %v\n", err)
		return exitFailed
	}
	printSummary(stderr, execution)
	if execution.JobStatus != status.COMPLETED {
		return exitFailed
	}
	return exitOK
}

// parseConfig defaults of the mode, then the config file, then the flags
func parseConfig(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("linebatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configFile string
		over       config.Config
	)
	fs.StringVar(&configFile, "config", "", "config file, .json or .yaml")
	fs.StringVar(&over.Input, "input", "", "input file, may contain {date,yyyyMMdd} style placeholders")
	fs.StringVar(&over.Output, "output", "", "output file")
	fs.StringVar(&over.Mode, "mode", "", "sequential, partitioned or async")
	fs.IntVar(&over.GridSize, "grid-size", 0, "number of partitions")
	fs.IntVar(&over.Workers, "workers", 0, "partitions executed at the same time")
	fs.IntVar(&over.QueueCapacity, "queue", -1, "partitions waiting for a worker")
	fs.IntVar(&over.ChunkSize, "chunk", 0, "items per chunk")
	fs.IntVar(&over.SkipLimit, "skip-limit", -1, "undecodable lines tolerated per partition")
	fs.StringVar(&over.Separator, "separator", "", "field separator")
	fs.BoolVar(&over.Header, "header", false, "the input starts with a header line")
	fs.StringVar(&over.Checksum, "checksum", "", "checksum file written next to the output: MD5, SHA1, SHA256, SHA512 or OK")
	fs.BoolVar(&over.AbortOnFailure, "abort-on-failure", false, "stop the other partitions when one fails")
	fs.IntVar(&over.AsyncWorkers, "async-workers", 0, "goroutines processing a chunk in async mode")
	fs.StringVar(&over.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&over.Console, "console", false, "write the items to stdout instead of the output file")
	fs.StringVar(&over.Notify.URL, "notify-url", "", "RabbitMQ url receiving job outcomes")
	fs.StringVar(&over.Notify.Exchange, "notify-exchange", "", "exchange of the job outcomes")
	fs.StringVar(&over.Upload.Host, "ftp-host", "", "FTP server the output is uploaded to")
	fs.IntVar(&over.Upload.Port, "ftp-port", 0, "FTP port")
	fs.StringVar(&over.Upload.User, "ftp-user", "", "FTP user")
	fs.StringVar(&over.Upload.Password, "ftp-password", "", "FTP password")
	fs.StringVar(&over.Upload.Path, "ftp-path", "", "remote file name of the upload")
	fs.StringVar(&over.DSN, "dsn", "", "MySQL dsn of the job repository, in memory when empty")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	fromFile := config.Config{QueueCapacity: -1, SkipLimit: -1}
	if configFile != "" {
		var err error
		if fromFile, err = config.Load(configFile); err != nil {
			return config.Config{}, err
		}
	}
	mode := config.Merge(fromFile, over).Mode
	cfg := config.Merge(config.Merge(config.Defaults(mode), fromFile), over)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err = linebatch.CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildJob(cfg config.Config, stdout io.Writer, listeners ...interface{}) linebatch.Job {
	codec := record.NewItemCodec(cfg.SeparatorRune())
	input := file.FileObjectModel{
		FileStore: &file.LocalFileSystem{},
		FileName:  "{input}",
		Header:    cfg.Header,
		Codec:     codec,
	}
	step := linebatch.NewStep("items").
		ReadFile(input).
		Processor(&linebatch.LoggingProcessor{}).
		ChunkSize(uint(cfg.ChunkSize)).
		SkipLimit(uint(cfg.SkipLimit))
	if cfg.Console {
		step.Writer(linebatch.NewConsoleWriter(stdout, codec))
	} else {
		step.WriteFile(file.FileObjectModel{
			FileStore: &file.LocalFileSystem{},
			FileName:  "{output}",
			Header:    cfg.Header,
			Checksum:  cfg.Checksum,
			Codec:     codec,
		})
	}
	switch cfg.Mode {
	case config.ModePartitioned:
		step.Partitions(uint(cfg.GridSize)).
			Workers(cfg.Workers, cfg.QueueCapacity).
			AbortOnFailure(cfg.AbortOnFailure)
	case config.ModeAsync:
		step.AsyncProcess(cfg.AsyncWorkers)
	}
	job := linebatch.NewJob(jobName).Step(step.Build())
	if cfg.Upload.Host != "" {
		job.Step(linebatch.NewStep("upload").CopyFile(file.FileMove{
			FromFileName:  "{output}",
			FromFileStore: &file.LocalFileSystem{},
			ToFileName:    cfg.Upload.Path,
			ToFileStore: &file.FTPFileSystem{
				Host:        cfg.Upload.Host,
				Port:        cfg.Upload.Port,
				User:        cfg.Upload.User,
				Password:    cfg.Upload.Password,
				ConnTimeout: 10 * time.Second,
			},
		}).Build())
	}
	if len(listeners) > 0 {
		job.Listener(listeners...)
	}
	return job.Build()
}

func printSummary(w io.Writer, execution *linebatch.JobExecution) {
	fmt.Fprintf(w, "job %v execution %v: %v\n", execution.JobName, execution.JobExecutionId, execution.JobStatus)
	for _, r := range execution.PartitionResults() {
		fmt.Fprintf(w, "  %v status:%v read:%v write:%v skipped:%v\n", r.Range, r.Status, r.ReadCount, r.WriteCount, r.SkippedCount)
		if r.Error != nil {
			fmt.Fprintf(w, "    %v\n", r.Error)
		}
	}
	if execution.FailError != nil {
		fmt.Fprintf(w, "  error: %v\n", execution.FailError)
	}
}
