// Package config loads and validates the settings of a fuzzing session.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/config/configstore"
	"github.com/andrej220/httpfuzz/pkg/config/filestore"
	"github.com/andrej220/httpfuzz/pkg/config/mongostore"
	"github.com/andrej220/httpfuzz/pkg/kafkautil"
	"github.com/andrej220/httpfuzz/pkg/probe"
	"github.com/go-playground/validator/v10"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

type FileStoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoStoreConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // Document ID
}

func NewStore(storeType StoreType, cfg any) (configstore.ConfigStore, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileStoreConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileStoreConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoStoreConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoStoreConfig")
		}
		store, err := mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, ErrInvalidStoreType
	}
}

type TargetConfig struct {
	URL          string            `yaml:"url" json:"url" validate:"required,url"`
	Method       string            `yaml:"method" json:"method" validate:"required,validVerb"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	UserAgent    string            `yaml:"userAgent" json:"userAgent"`
	Timeout      time.Duration     `yaml:"timeout" json:"timeout" validate:"gt=0"`
	InputParam   string            `yaml:"inputParam" json:"inputParam"`
	MaxBodyBytes int64             `yaml:"maxBodyBytes" json:"maxBodyBytes" validate:"gte=0"`
}

type ClassifierConfig struct {
	CrashCodes []int  `yaml:"crashCodes" json:"crashCodes" validate:"dive,gte=100,lte=599"`
	MissingAs  string `yaml:"missingAs" json:"missingAs" validate:"omitempty,validOutcome"`
}

type FeedbackConfig struct {
	Name  string   `yaml:"name" json:"name" validate:"required"`
	Codes []uint16 `yaml:"codes" json:"codes" validate:"dive,gte=100,lte=599"`
}

type ObjectiveConfig struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Outcomes []string `yaml:"outcomes" json:"outcomes" validate:"dive,validOutcome"`
}

type SessionConfig struct {
	Iterations    int    `yaml:"iterations" json:"iterations" validate:"gte=0"`
	InitialInputs int    `yaml:"initialInputs" json:"initialInputs" validate:"gte=0"`
	MaxInputLen   int    `yaml:"maxInputLen" json:"maxInputLen" validate:"gt=0"`
	Seed          uint64 `yaml:"seed" json:"seed"`
}

type StoreConfig struct {
	// MaxEntries bounds the response store; 0 keeps every response.
	MaxEntries int `yaml:"maxEntries" json:"maxEntries" validate:"gte=0"`
}

type ResilienceConfig struct {
	Retry   probe.RetryConfig   `yaml:"retry" json:"retry"`
	Breaker probe.BreakerConfig `yaml:"breaker" json:"breaker"`
}

type KafkaConfig struct {
	Enabled          bool `yaml:"enabled" json:"enabled"`
	kafkautil.Config `yaml:",inline" json:",inline"`
}

type MongoConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	URI        string `yaml:"uri" json:"uri" validate:"required_if=Enabled true"`
	DBName     string `yaml:"dbName" json:"dbName" validate:"required_if=Enabled true"`
	Collection string `yaml:"collection" json:"collection" validate:"required_if=Enabled true"`
}

type OutputConfig struct {
	Dir     string `yaml:"dir" json:"dir" validate:"required"`
	Workers int    `yaml:"workers" json:"workers" validate:"gte=0"`
}

type FuzzConfig struct {
	Target     TargetConfig     `yaml:"target" json:"target"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Feedback   FeedbackConfig   `yaml:"feedback" json:"feedback"`
	Objective  ObjectiveConfig  `yaml:"objective" json:"objective"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Resilience ResilienceConfig `yaml:"resilience" json:"resilience"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Mongo      MongoConfig      `yaml:"mongo" json:"mongo"`
	Output     OutputConfig     `yaml:"output" json:"output"`
}

// Default returns a session probing scanme.nmap.org with GET requests: 404 counts as
// a crash, 404 and 200 are interesting, crashes land in ./crashes.
func Default() *FuzzConfig {
	return &FuzzConfig{
		Target: TargetConfig{
			URL:          "http://scanme.nmap.org",
			Method:       string(probe.GET),
			Timeout:      probe.DefaultTimeout,
			InputParam:   probe.DefaultInputParam,
			MaxBodyBytes: probe.DefaultMaxBodyBytes,
		},
		Classifier: ClassifierConfig{CrashCodes: []int{404}},
		Feedback:   FeedbackConfig{Name: "feedback", Codes: []uint16{404, 200}},
		Objective:  ObjectiveConfig{Name: "objective", Outcomes: []string{"crash"}},
		Session:    SessionConfig{Iterations: 10, InitialInputs: 8, MaxInputLen: 32, Seed: 1},
		Resilience: ResilienceConfig{
			Retry:   probe.DefaultRetryConfig(),
			Breaker: probe.DefaultBreakerConfig(),
		},
		Output: OutputConfig{Dir: "./crashes", Workers: 2},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	_ = validate.RegisterValidation("validVerb", validateVerb)
	_ = validate.RegisterValidation("validOutcome", validateOutcome)
}

func validateVerb(fl validator.FieldLevel) bool {
	_, err := probe.ParseVerb(fl.Field().String())
	return err == nil
}

func validateOutcome(fl validator.FieldLevel) bool {
	_, err := classify.ParseOutcome(fl.Field().String())
	return err == nil
}

// Load overlays the document held by store onto Default and validates the result.
func Load(store configstore.ConfigStore) (*FuzzConfig, error) {
	cfg := Default()
	if err := store.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes case-insensitive fields and checks every constraint.
func (c *FuzzConfig) Validate() error {
	c.Target.Method = strings.ToUpper(strings.TrimSpace(c.Target.Method))
	c.Classifier.MissingAs = strings.ToLower(c.Classifier.MissingAs)
	for i, o := range c.Objective.Outcomes {
		c.Objective.Outcomes[i] = strings.ToLower(o)
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("invalid config: kafka enabled without brokers or topic")
	}
	return nil
}

func (c *FuzzConfig) HTTPConfig() (probe.HTTPConfig, error) {
	verb, err := probe.ParseVerb(c.Target.Method)
	if err != nil {
		return probe.HTTPConfig{}, err
	}
	return probe.HTTPConfig{
		URL:          c.Target.URL,
		Method:       verb,
		Headers:      c.Target.Headers,
		UserAgent:    c.Target.UserAgent,
		Timeout:      c.Target.Timeout,
		InputParam:   c.Target.InputParam,
		MaxBodyBytes: c.Target.MaxBodyBytes,
		Retry:        c.Resilience.Retry,
		Breaker:      c.Resilience.Breaker,
	}, nil
}

func (c *FuzzConfig) Classify() *classify.StatusClassifier {
	var opts []classify.StatusOption
	if c.Classifier.MissingAs != "" {
		if o, err := classify.ParseOutcome(c.Classifier.MissingAs); err == nil {
			opts = append(opts, classify.WithMissingAs(o))
		}
	}
	return classify.NewStatusClassifier(c.Classifier.CrashCodes, opts...)
}

func (c *FuzzConfig) ObjectiveOutcomes() []classify.Outcome {
	out := make([]classify.Outcome, 0, len(c.Objective.Outcomes))
	for _, s := range c.Objective.Outcomes {
		if o, err := classify.ParseOutcome(s); err == nil {
			out = append(out, o)
		}
	}
	return out
}
