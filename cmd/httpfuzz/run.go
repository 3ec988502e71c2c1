package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andrej220/httpfuzz/pkg/config"
	"github.com/andrej220/httpfuzz/pkg/config/configstore"
	"github.com/andrej220/httpfuzz/pkg/executor"
	"github.com/andrej220/httpfuzz/pkg/feedback"
	"github.com/andrej220/httpfuzz/pkg/kafkautil"
	"github.com/andrej220/httpfuzz/pkg/lg"
	"github.com/andrej220/httpfuzz/pkg/observer"
	"github.com/andrej220/httpfuzz/pkg/persistence"
	"github.com/andrej220/httpfuzz/pkg/probe"
	"github.com/andrej220/httpfuzz/pkg/respstore"
	"github.com/andrej220/httpfuzz/pkg/state"
	"github.com/andrej220/httpfuzz/pkg/workerpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoConnectTimeout = 10 * time.Second

type runFlags struct {
	configPath string
	mongo      config.MongoStoreConfig
	url        string
	iterations int
}

func (f *runFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML session config; built-in defaults when empty")
	fs.StringVar(&f.mongo.URI, "config-mongo-uri", "", "load the session config from MongoDB instead of a file")
	fs.StringVar(&f.mongo.DBName, "config-db", serviceName, "database holding session configs")
	fs.StringVar(&f.mongo.CollName, "config-coll", "profiles", "collection holding session configs")
	fs.StringVar(&f.mongo.ID, "config-id", "default", "session config document id")
	fs.StringVar(&f.url, "url", "", "target URL, overrides the config")
	fs.IntVar(&f.iterations, "iterations", 0, "runs after the initial inputs, overrides the config")
}

// configStore picks the store named by the flags, or nil for the built-in defaults.
func (f *runFlags) configStore() (configstore.ConfigStore, string, error) {
	switch {
	case f.configPath != "" && f.mongo.URI != "":
		return nil, "", errors.New("--config and --config-mongo-uri are mutually exclusive")
	case f.configPath != "":
		store, err := config.NewStore(config.FileStore, &config.FileStoreConfig{Path: f.configPath})
		return store, f.configPath, err
	case f.mongo.URI != "":
		mongoCfg := f.mongo
		store, err := config.NewStore(config.MongoStore, &mongoCfg)
		return store, "profile " + f.mongo.ID, err
	}
	return nil, "", nil
}

func runCommand(logCfg *lg.Config) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one fuzzing session against the configured target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := lg.New(logCfg)
			defer logger.Sync()

			cfg, err := loadConfig(&f, cmd.Flags())
			if err != nil {
				return err
			}
			return runSession(lg.Attach(cmd.Context(), logger), cfg)
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

// loadConfig starts from the configured store (or the defaults) and applies the
// flags that were set explicitly.
func loadConfig(f *runFlags, fs *pflag.FlagSet) (*config.FuzzConfig, error) {
	cfg := config.Default()
	store, source, err := f.configStore()
	if err != nil {
		return nil, err
	}
	if store != nil {
		if c, ok := store.(io.Closer); ok {
			defer c.Close()
		}
		if cfg, err = config.Load(store); err != nil {
			return nil, fmt.Errorf("load %s: %w", source, err)
		}
	}
	if fs.Changed("url") {
		cfg.Target.URL = f.url
	}
	if fs.Changed("iterations") {
		cfg.Session.Iterations = f.iterations
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSession(ctx context.Context, cfg *config.FuzzConfig) error {
	logger := lg.FromContext(ctx)

	httpCfg, err := cfg.HTTPConfig()
	if err != nil {
		return err
	}
	harness, err := probe.NewHTTPHarness(httpCfg)
	if err != nil {
		return err
	}

	store := respstore.New(respstore.WithMaxEntries[uint64, *probe.Response](cfg.Store.MaxEntries))

	observers := []observer.Observer{observer.NewLogObserver(logger)}
	if cfg.Kafka.Enabled {
		pub := kafkautil.NewRecordPublisher(cfg.Kafka.Config)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Error("failed to close kafka writer", lg.Err(err))
			}
		}()
		observers = append(observers, pub)
	}

	sinks := persistence.MultiSink{persistence.NewDirSink(cfg.Output.Dir)}
	if cfg.Mongo.Enabled {
		client, err := connectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error("failed to disconnect from mongo", lg.Err(err))
			}
		}()
		coll := client.Database(cfg.Mongo.DBName).Collection(cfg.Mongo.Collection)
		sinks = append(sinks, persistence.NewMongoSink(coll))
	}

	st := state.New()
	st.SetMetadata(state.MetaTarget, cfg.Target.URL)
	logger = logger.With(lg.String("session", st.SessionID().String()), lg.String("target", cfg.Target.URL))
	logger.Info("session started",
		lg.Int("initial_inputs", cfg.Session.InitialInputs),
		lg.Int("iterations", cfg.Session.Iterations))

	d := &driver{
		exec:       executor.New(harness, cfg.Classify(), store, observers...),
		store:      store,
		feedback:   feedback.NewCodeFeedback(cfg.Feedback.Name, cfg.Feedback.Codes...),
		objective:  feedback.NewOutcomeFeedback(cfg.Objective.Name, cfg.ObjectiveOutcomes()...),
		sink:       sinks,
		pool:       workerpool.NewPool[persistence.Finding](cfg.Output.Workers, logger),
		inputs:     newInputSource(cfg.Session.Seed, cfg.Session.MaxInputLen),
		initial:    cfg.Session.InitialInputs,
		iterations: cfg.Session.Iterations,
		logger:     logger,
	}
	sum, err := d.run(ctx, st)
	logger.Info("session finished", sum.fields()...)
	return err
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}
