package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/model"
)

const (
	recordsCollection = "daily_records"
	catalogCollection = "catalog"
	configCollection  = "system_config"
	configDocID       = "default"
)

// MongoStore implements Store on a MongoDB database. Daily records keep the
// document shape written by the plant ingestion job: shift maps live at the
// top level next to "date" and "processed".
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to uri and uses the named database.
func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, eris.New("mongo: connection uri is empty")
	}
	clientOpts := options.Client().ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(2).
		SetConnectTimeout(5 * time.Second).
		SetSocketTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, eris.Wrap(err, "mongo: ping")
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.db.Collection(recordsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "processed", Value: 1}},
	})
	if err != nil {
		return eris.Wrap(err, "mongo: create processed index")
	}

	// Pre-images let Watch see records that leave the processed set. Servers
	// before 6.0 reject the option; Watch then only sees deletes of them.
	if err := s.db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: recordsCollection},
		{Key: "changeStreamPreAndPostImages", Value: bson.M{"enabled": true}},
	}).Err(); err != nil {
		zap.L().Debug("mongo: change stream pre-images unavailable", zap.Error(err))
	}
	return nil
}

func (s *MongoStore) Close() error {
	return eris.Wrap(s.client.Disconnect(context.Background()), "mongo: disconnect")
}

func (s *MongoStore) GetRecord(ctx context.Context, id string) (*model.RawDailyRecord, error) {
	var doc bson.M
	err := s.db.Collection(recordsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, eris.Wrapf(ErrNotFound, "mongo: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mongo: get record %s", id)
	}
	rec := RecordFromDoc(doc)
	return &rec, nil
}

func (s *MongoStore) ListProcessed(ctx context.Context) ([]model.RawDailyRecord, error) {
	cur, err := s.db.Collection(recordsCollection).Find(ctx,
		bson.M{"processed": string(model.ProcessedYes)},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: list processed")
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, eris.Wrap(err, "mongo: decode processed")
	}
	out := make([]model.RawDailyRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, RecordFromDoc(d))
	}
	return out, nil
}

func (s *MongoStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	cur, err := s.db.Collection(catalogCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, eris.Wrap(err, "mongo: list catalog")
	}
	var out []model.CatalogEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, eris.Wrap(err, "mongo: decode catalog")
	}
	return out, nil
}

func (s *MongoStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	var doc bson.M
	err := s.db.Collection(configCollection).FindOne(ctx, bson.M{"_id": configDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, eris.Wrap(ErrNotFound, "mongo: system config")
	}
	if err != nil {
		return nil, eris.Wrap(err, "mongo: get system config")
	}
	cfg := SystemConfigFromDoc(doc)
	return &cfg, nil
}

func (s *MongoStore) PutRecord(ctx context.Context, rec model.RawDailyRecord) error {
	if rec.ID == "" {
		return eris.New("mongo: record id is required")
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.Collection(recordsCollection).ReplaceOne(ctx,
		bson.M{"_id": rec.ID}, DocFromRecord(rec), options.Replace().SetUpsert(true))
	return eris.Wrapf(err, "mongo: upsert record %s", rec.ID)
}

func (s *MongoStore) PutCatalog(ctx context.Context, entries []model.CatalogEntry) error {
	coll := s.db.Collection(catalogCollection)
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return eris.Wrap(err, "mongo: clear catalog")
	}
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e)
	}
	_, err := coll.InsertMany(ctx, docs)
	return eris.Wrap(err, "mongo: insert catalog")
}

func (s *MongoStore) PutSystemConfig(ctx context.Context, cfg model.SystemConfig) error {
	_, err := s.db.Collection(configCollection).ReplaceOne(ctx,
		bson.M{"_id": configDocID},
		bson.M{"_id": configDocID, "monthly_target": cfg.MonthlyTarget.String(), "working_days_per_month": cfg.WorkingDaysPerMonth},
		options.Replace().SetUpsert(true))
	return eris.Wrap(err, "mongo: put system config")
}

type changeEvent struct {
	DocumentKey bson.M `bson:"documentKey"`
}

// processedChanges matches change events that touch the processed set: the
// document is processed after the change or was processed before it.
func processedChanges() mongo.Pipeline {
	yes := string(model.ProcessedYes)
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"operationType": "delete"},
			bson.M{"fullDocument.processed": yes},
			bson.M{"fullDocumentBeforeChange.processed": yes},
		}}}},
	}
}

// Watch opens a change stream on the records collection filtered to the
// processed set, the same set ListProcessed returns.
func (s *MongoStore) Watch(ctx context.Context, fn ChangeFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	stream, err := s.db.Collection(recordsCollection).Watch(ctx, processedChanges(), opts)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "mongo: open change stream")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stream.Close(context.Background()) //nolint:errcheck

		fn(model.Change{At: time.Now().UTC()})
		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				zap.L().Warn("mongo: undecodable change event", zap.Error(err))
				fn(model.Change{At: time.Now().UTC()})
				continue
			}
			var ids []string
			if id, ok := ev.DocumentKey["_id"]; ok {
				ids = append(ids, stringOf(id))
			}
			fn(model.Change{DocumentIDs: ids, At: time.Now().UTC()})
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			fn(model.Change{At: time.Now().UTC(), Err: eris.Wrap(err, "mongo: change stream")})
		}
	}()

	return &subscription{cancel: cancel, done: done}, nil
}

// reservedKeys are top-level record fields that are never shift maps.
var reservedKeys = map[string]bool{
	"_id": true, "id": true, "date": true, "processed": true, "updated_at": true, "shifts": true,
}

// RecordFromDoc converts a raw daily record document. It never fails: fields
// of unexpected types are stringified and left for the normalizer to reject.
func RecordFromDoc(doc map[string]any) model.RawDailyRecord {
	rec := model.RawDailyRecord{
		ID:        stringOf(firstOf(doc, "_id", "id")),
		Date:      dateOf(doc["date"]),
		Processed: processedOf(doc["processed"]),
		Shifts:    make(map[string]map[string]model.LineItem),
	}
	if ts, ok := doc["updated_at"].(primitive.DateTime); ok {
		rec.UpdatedAt = ts.Time().UTC()
	}

	if nested, ok := asMap(doc["shifts"]); ok {
		for k, v := range nested {
			if items, ok := itemsOf(v); ok {
				rec.Shifts[k] = items
			}
		}
	}
	for k, v := range doc {
		if reservedKeys[k] {
			continue
		}
		if items, ok := itemsOf(v); ok {
			rec.Shifts[k] = items
		}
	}
	return rec
}

// DocFromRecord builds the stored document shape for rec.
func DocFromRecord(rec model.RawDailyRecord) bson.M {
	doc := bson.M{
		"_id":        rec.ID,
		"processed":  string(rec.Processed),
		"updated_at": primitive.NewDateTimeFromTime(rec.UpdatedAt),
	}
	if rec.Date != "" {
		doc["date"] = rec.Date
	}
	for shiftKey, items := range rec.Shifts {
		m := bson.M{}
		for itemKey, it := range items {
			m[itemKey] = bson.M{
				"code":               it.Code,
				"planned_quantity":   string(it.PlannedQuantity),
				"produced_weight_kg": string(it.ProducedWeightKg),
				"short_description":  it.ShortDescription,
			}
		}
		doc[shiftKey] = m
	}
	return doc
}

// SystemConfigFromDoc converts the system configuration document.
func SystemConfigFromDoc(doc map[string]any) model.SystemConfig {
	var cfg model.SystemConfig
	if d, err := decimal.NewFromString(stringOf(doc["monthly_target"])); err == nil {
		cfg.MonthlyTarget = d
	}
	if n, err := strconv.Atoi(stringOf(doc["working_days_per_month"])); err == nil {
		cfg.WorkingDaysPerMonth = n
	}
	return cfg
}

func itemsOf(v any) (map[string]model.LineItem, bool) {
	out := make(map[string]model.LineItem)
	if arr, ok := v.(primitive.A); ok {
		for i, el := range arr {
			if m, ok := asMap(el); ok {
				out[strconv.Itoa(i)] = lineItemOf(m)
			}
		}
		return out, true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	for k, el := range m {
		if im, ok := asMap(el); ok {
			out[k] = lineItemOf(im)
		}
	}
	return out, true
}

func lineItemOf(m map[string]any) model.LineItem {
	return model.LineItem{
		Code:             stringOf(firstOf(m, "code", "codigo")),
		PlannedQuantity:  model.Quantity(stringOf(firstOf(m, "planned_quantity", "plannedQuantity"))),
		ProducedWeightKg: model.Quantity(stringOf(firstOf(m, "produced_weight_kg", "producedWeightKg"))),
		ShortDescription: stringOf(firstOf(m, "short_description", "shortDescription")),
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case primitive.M:
		return t, true
	case map[string]any:
		return t, true
	case primitive.D:
		return t.Map(), true
	default:
		return nil, false
	}
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func processedOf(v any) model.ProcessedFlag {
	switch t := v.(type) {
	case bool:
		if t {
			return model.ProcessedYes
		}
	case string:
		if t == string(model.ProcessedYes) {
			return model.ProcessedYes
		}
	}
	return model.ProcessedNo
}

func dateOf(v any) string {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return stringOf(v)
	}
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case primitive.Decimal128:
		return t.String()
	case primitive.ObjectID:
		return t.Hex()
	default:
		return fmt.Sprint(t)
	}
}
