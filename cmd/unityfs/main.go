// The unityfs tool lists, extracts, dumps and repacks asset bundles and
// serialized asset files.
package main

import (
	"os"

	"github.com/eichs/unityfs/internal/bundle"
	"github.com/eichs/unityfs/internal/config"
	"github.com/eichs/unityfs/internal/env"
	"github.com/eichs/unityfs/internal/metrics"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/eichs/unityfs/internal/tpk"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var versionGitCommit string

func getGlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, TakesFile: true, Usage: "YAML configuration file", EnvVars: []string{"UNITYFS_CONFIG"}},
		&cli.StringFlag{Name: "log-level", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-file", TakesFile: true, Usage: "Write logs to a rotated file instead of stderr", EnvVars: []string{"LOG_FILE"}},
		&cli.StringFlag{Name: "tpk", TakesFile: true, Usage: "Type tree database used for files without embedded type trees", EnvVars: []string{"UNITYFS_TPK"}},
		&cli.BoolFlag{Name: "strict", Usage: "Fail objects whose decoded size differs from the object table"},
		&cli.BoolFlag{Name: "metrics", Usage: "Print codec counters to stderr when done"},
	}
}

// runtimeState is what every command needs once flags and configuration
// are resolved.
type runtimeState struct {
	cfg     *config.Config
	metrics *metrics.Registry
	env     *env.Environment
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("log-file"); v != "" {
		cfg.LogFile.Path = v
	}
	if v := c.String("tpk"); v != "" {
		cfg.TPKPath = v
	}
	if c.Bool("strict") {
		cfg.StrictByteCount = true
	}
	if c.Bool("metrics") {
		cfg.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setup(c *cli.Context) (*runtimeState, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := cfg.SetupLogging(logrus.StandardLogger()); err != nil {
		return nil, err
	}

	st := &runtimeState{cfg: cfg}
	if cfg.Metrics.Enabled {
		st.metrics = metrics.NewRegistry()
	}
	if cfg.TPKPath != "" {
		db, err := tpk.Load(cfg.TPKPath, tpk.NewCache())
		if err != nil {
			return nil, err
		}
		db.SetMetrics(st.metrics)
		tpk.SetDefault(db)
		logrus.WithFields(logrus.Fields{
			"path":     cfg.TPKPath,
			"versions": len(db.Versions()),
			"classes":  len(db.ClassIDs()),
		}).Debug("loaded type tree database")
	}

	st.env = env.New(bundle.Config{
		Serialized: serialized.Config{
			Peeker:          typetree.NewPeeker(cfg.PeekCache),
			Strict:          cfg.StrictByteCount,
			FallbackVersion: cfg.FallbackUnityVersion,
			ScriptTreeCache: cfg.ScriptTreeCache,
			Metrics:         st.metrics,
		},
		Metrics: st.metrics,
	})
	return st, nil
}

// finish prints the counters collected during the command.
func (st *runtimeState) finish() {
	if st.metrics == nil {
		return
	}
	if err := writeMetrics(os.Stderr, st.metrics); err != nil {
		logrus.WithError(err).Warn("gather metrics")
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "unityfs",
		Usage:   "Asset bundle and serialized file tool",
		Version: versionGitCommit,
		Flags:   getGlobalFlags(),
	}
	app.Commands = []*cli.Command{
		lsCommand(),
		extractCommand(),
		dumpCommand(),
		repackCommand(),
		tpkCommand(),
	}
	return app
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
