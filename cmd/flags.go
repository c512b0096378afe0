package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"debug", "v"},
			Usage:   "enable debug log",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "show warning and errors only",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "enable trace log",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colors",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file",
			EnvVars: []string{"RELAYS_CONFIG"},
		},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "HTTP listen address (default from config: 127.0.0.1:8080)",
		},
		&cli.StringFlag{
			Name:  "meta-addr",
			Usage: "Redis address of the repository, host:port/db",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "storage backend type: minio or s3",
		},
		&cli.StringFlag{
			Name:  "backend-addr",
			Usage: "endpoint of the storage backend",
		},
		&cli.StringFlag{
			Name:  "region",
			Usage: "region of the storage backend",
		},
		&cli.StringFlag{
			Name:  "upload-bucket",
			Usage: "bucket receiving raw uploads",
		},
		&cli.StringFlag{
			Name:  "retention",
			Usage: "how long an allow-update upload may be replaced, e.g. 3d",
		},
		&cli.StringFlag{
			Name:  "archive-format",
			Usage: "bundle archive format: zip, tar or tar.zst",
		},
		&cli.BoolFlag{
			Name:  "make-buckets",
			Usage: "create the configured buckets at startup",
		},
		&cli.StringFlag{
			Name:  "logdir",
			Usage: "directory for the log file",
		},
		&cli.StringFlag{
			Name:  "loglevel",
			Usage: "log level: trace/debug/info/warn/error",
		},
		&cli.BoolFlag{
			Name:    "background",
			Aliases: []string{"d"},
			Usage:   "run in background",
		},
	}
}

func expandFlags(compoundFlags ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, group := range compoundFlags {
		flags = append(flags, group...)
	}
	return flags
}

// setupLogging applies the global verbosity flags.
func setupLogging(c *cli.Context) {
	switch {
	case c.Bool("trace"):
		internal.SetLogLevel(logrus.TraceLevel)
	case c.Bool("verbose"):
		internal.SetLogLevel(logrus.DebugLevel)
	case c.Bool("quiet"):
		internal.SetLogLevel(logrus.WarnLevel)
	default:
		internal.SetLogLevel(logrus.InfoLevel)
	}
	if c.Bool("no-color") {
		internal.DisableLogColor()
	}
}

// loadConfig reads the config file and lets explicitly set flags override it.
func loadConfig(c *cli.Context) (*internal.Config, error) {
	conf, err := internal.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	override := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	override("listen", &conf.Listen)
	override("meta-addr", &conf.MetaAddr)
	override("backend", &conf.Backend.Type)
	override("backend-addr", &conf.Backend.Endpoint)
	override("region", &conf.Backend.Region)
	override("upload-bucket", &conf.Buckets.Upload)
	override("retention", &conf.RetentionWindow)
	override("archive-format", &conf.ArchiveFormat)
	override("logdir", &conf.LogDir)
	override("loglevel", &conf.LogLevel)
	conf.LoadCredentials()
	return conf, conf.Validate()
}
