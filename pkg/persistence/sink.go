package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/andrej220/httpfuzz/pkg/state"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Kind string

const (
	// KindCorpus marks inputs the feedback found interesting.
	KindCorpus Kind = "corpus"
	// KindObjective marks inputs that met the objective, i.e. crashes.
	KindObjective Kind = "objective"
)

type Finding struct {
	SessionID uuid.UUID       `json:"sessionId" bson:"sessionId"`
	Index     uint64          `json:"index" bson:"index"`
	Kind      Kind            `json:"kind" bson:"kind"`
	Input     []byte          `json:"input" bson:"input"`
	Record    state.RunRecord `json:"record" bson:"record"`
	FoundAt   time.Time       `json:"foundAt" bson:"foundAt"`
}

// ID is unique per session, run and kind.
func (f Finding) ID() string {
	return f.SessionID.String() + "_" + strconv.FormatUint(f.Index, 10) + "_" + string(f.Kind)
}

type Sink interface {
	Save(ctx context.Context, f Finding) error
}

// DirSink writes one JSON file per finding under Dir/<kind>/.
type DirSink struct {
	Dir        string
	Serializer Serializer
	Writer     Writer
}

func NewDirSink(dir string) *DirSink {
	return &DirSink{
		Dir:        dir,
		Serializer: JSONSerializer{Prefix: prefix, Indent: indent},
		Writer:     FileWriter{Overwrite: false},
	}
}

func (s *DirSink) Path(f Finding) string {
	return filepath.Join(s.Dir, string(f.Kind), f.ID()+".json")
}

func (s *DirSink) Save(_ context.Context, f Finding) error {
	return WriteJSONToFile(f, s.Path(f), s.Serializer, s.Writer)
}

type replacer interface {
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// MongoSink upserts findings into a collection keyed by Finding.ID.
type MongoSink struct {
	coll    replacer
	timeout time.Duration
}

func NewMongoSink(coll *mongo.Collection) *MongoSink {
	return &MongoSink{coll: coll, timeout: 30 * time.Second}
}

func (s *MongoSink) Save(ctx context.Context, f Finding) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := bson.M{"_id": f.ID()}
	raw, err := bson.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal finding: %w", err)
	}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal finding: %w", err)
	}

	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": doc["_id"]}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save finding %s: %w", f.ID(), err)
	}
	return nil
}

// MultiSink saves to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Save(ctx context.Context, f Finding) error {
	for _, s := range m {
		if err := s.Save(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
