package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"schedbot/pkg/logx"
)

type mongoStore struct {
	client   *mongo.Client
	jobs     *mongo.Collection
	counters *mongo.Collection
	log      logx.Logger
}

// mongoJob mirrors the jobs table schema. Ids stay integers (allocated from
// a counters collection) so both drivers expose the same id space.
type mongoJob struct {
	ID           int64          `bson:"_id"`
	TimeSpec     string         `bson:"time_spec"`
	User         string         `bson:"user"`
	Command      string         `bson:"command"`
	Text         string         `bson:"text"`
	Action       string         `bson:"action"`
	Channel      string         `bson:"channel"`
	Session      string         `bson:"session"`
	Participants []string       `bson:"participants"`
	PostingMode  string         `bson:"posting_mode"`
	PayloadArgs  map[string]any `bson:"payload_args"`
	Completed    *bool          `bson:"completed"`
	ErrorDetail  string         `bson:"error_detail"`
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo uri is required")
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = "schedbot"
	}
	collName := strings.TrimSpace(cfg.Collection)
	if collName == "" {
		collName = "jobs"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(dbName)
	return &mongoStore{
		client:   client,
		jobs:     db.Collection(collName),
		counters: db.Collection(collName + "_counters"),
		log:      log,
	}, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextID allocates the next integer id from the counters collection.
func (s *mongoStore) nextID(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "jobs"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *mongoStore) Insert(ctx context.Context, rec Record) (int64, error) {
	if err := validate(rec); err != nil {
		return 0, err
	}
	id, err := s.nextID(ctx)
	if err != nil {
		return 0, err
	}
	mode := rec.PostingMode
	if mode == "" {
		mode = PostingBot
	}
	participants := append([]string(nil), rec.Participants...)
	sort.Strings(participants)
	if participants == nil {
		participants = []string{}
	}
	args := rec.PayloadArgs
	if args == nil {
		args = map[string]any{}
	}

	_, err = s.jobs.InsertOne(ctx, mongoJob{
		ID:           id,
		TimeSpec:     rec.TimeSpec,
		User:         rec.User,
		Command:      rec.Command,
		Text:         rec.Text,
		Action:       rec.Action,
		Channel:      rec.Channel,
		Session:      rec.Session,
		Participants: participants,
		PostingMode:  mode,
		PayloadArgs:  args,
		ErrorDetail:  "",
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *mongoStore) FindByID(ctx context.Context, id int64) (Record, error) {
	var doc mongoJob
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	return doc.record(), nil
}

func (s *mongoStore) Where(ctx context.Context, f Filter) ([]Record, error) {
	filter := bson.M{}
	if f.Pending {
		filter["completed"] = nil
	}
	if f.User != "" {
		filter["user"] = f.User
	}
	if f.Command != "" {
		filter["command"] = f.Command
	}
	if f.Action != "" {
		filter["action"] = f.Action
	}
	if f.Participants != nil {
		cp := append([]string(nil), f.Participants...)
		sort.Strings(cp)
		filter["participants"] = cp
	}
	if f.PostingMode != "" {
		filter["posting_mode"] = f.PostingMode
	}

	cur, err := s.jobs.Find(ctx, filter, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	for cur.Next(ctx) {
		var doc mongoJob
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.record())
	}
	return out, cur.Err()
}

func (s *mongoStore) Patch(ctx context.Context, id int64, p Patch) error {
	set := bson.M{}
	if p.Completed != nil {
		set["completed"] = *p.Completed
	}
	if p.ErrorDetail != nil {
		set["error_detail"] = *p.ErrorDetail
	}
	if len(set) == 0 {
		return nil
	}
	res, err := s.jobs.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func (d mongoJob) record() Record {
	return Record{
		ID:           d.ID,
		TimeSpec:     d.TimeSpec,
		User:         d.User,
		Command:      d.Command,
		Text:         d.Text,
		Action:       d.Action,
		Channel:      d.Channel,
		Session:      d.Session,
		Participants: d.Participants,
		PostingMode:  d.PostingMode,
		PayloadArgs:  d.PayloadArgs,
		Completed:    d.Completed,
		ErrorDetail:  d.ErrorDetail,
	}
}
