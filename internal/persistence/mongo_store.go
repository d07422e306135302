package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/siirto/pkg/api"
)

// MongoAuditStore is an AuditStore backed by MongoDB.
//
// Entry IDs are allocated from a counters collection. Conflict detection
// relies on a unique index over (machine_id, entity_type, entity_id,
// prev_id): two racers that observed the same head insert the same
// prev_id, and the second insert fails with a duplicate-key error.
type MongoAuditStore struct {
	coll     *mongo.Collection
	counters *mongo.Collection
}

var _ AuditStore = (*MongoAuditStore)(nil)

const (
	mongoDefaultDB    = "siirto"
	mongoSharedColl   = "audit_log"
	mongoCountersColl = "counters"
	mongoOpTimeout    = 5 * time.Second
)

// NewMongoAuditStore creates a Mongo-backed audit store and ensures its
// indexes. dbName defaults to "siirto" if empty.
func NewMongoAuditStore(client *mongo.Client, dbName string) (*MongoAuditStore, error) {
	return newMongoStoreForColl(client, dbName, mongoSharedColl)
}

func newMongoStoreForColl(client *mongo.Client, dbName, collName string) (*MongoAuditStore, error) {
	if dbName == "" {
		dbName = mongoDefaultDB
	}
	db := client.Database(dbName)
	s := &MongoAuditStore{
		coll:     db.Collection(collName),
		counters: db.Collection(mongoCountersColl),
	}
	if err := s.ensureIndexes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoAuditStore) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "machine_id", Value: 1},
				{Key: "entity_type", Value: 1},
				{Key: "entity_id", Value: 1},
				{Key: "prev_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "machine_id", Value: 1},
				{Key: "entity_type", Value: 1},
				{Key: "entity_id", Value: 1},
				{Key: "_id", Value: 1},
			},
		},
	})
	return err
}

type mongoEntryDoc struct {
	ID           int64  `bson:"_id"`
	MachineID    string `bson:"machine_id"`
	EntityType   string `bson:"entity_type"`
	EntityID     string `bson:"entity_id"`
	FromStateID  string `bson:"from_state_id,omitempty"`
	ToStateID    string `bson:"to_state_id"`
	TransitionID string `bson:"transition_id"`
	PrincipalID  string `bson:"principal_id"`
	Comment      string `bson:"comment,omitempty"`
	Metadata     []byte `bson:"metadata,omitempty"`
	PrevID       int64  `bson:"prev_id"`
	CreatedAt    int64  `bson:"created_at"` // unix nanoseconds
}

func (d *mongoEntryDoc) toEntry() (*api.LogEntry, error) {
	meta, err := DecodeMetadata(d.Metadata)
	if err != nil {
		return nil, err
	}
	return &api.LogEntry{
		ID:           d.ID,
		MachineID:    d.MachineID,
		EntityType:   d.EntityType,
		EntityID:     d.EntityID,
		FromStateID:  d.FromStateID,
		ToStateID:    d.ToStateID,
		TransitionID: d.TransitionID,
		PrincipalID:  d.PrincipalID,
		Comment:      d.Comment,
		Metadata:     meta,
		CreatedAt:    time.Unix(0, d.CreatedAt).UTC(),
	}, nil
}

func (s *MongoAuditStore) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": s.coll.Name()},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *MongoAuditStore) Append(ctx context.Context, e *api.LogEntry, prevID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	meta, err := EncodeMetadata(e.Metadata)
	if err != nil {
		return 0, err
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return 0, err
	}

	doc := mongoEntryDoc{
		ID:           id,
		MachineID:    e.MachineID,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		FromStateID:  e.FromStateID,
		ToStateID:    e.ToStateID,
		TransitionID: e.TransitionID,
		PrincipalID:  e.PrincipalID,
		Comment:      e.Comment,
		Metadata:     meta,
		PrevID:       prevID,
		CreatedAt:    e.CreatedAt.UnixNano(),
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	return id, nil
}

func (s *MongoAuditStore) Latest(ctx context.Context, machineID, entityType, entityID string) (*api.LogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc mongoEntryDoc
	err := s.coll.FindOne(ctx,
		bson.M{"machine_id": machineID, "entity_type": entityType, "entity_id": entityID},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoEntry
		}
		return nil, err
	}
	return doc.toEntry()
}

func (s *MongoAuditStore) Query(ctx context.Context, f api.LogFilter, p api.Page) ([]*api.LogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	filter := bson.M{}
	if f.MachineID != "" {
		filter["machine_id"] = f.MachineID
	}
	if f.EntityType != "" {
		filter["entity_type"] = f.EntityType
	}
	if f.EntityID != "" {
		filter["entity_id"] = f.EntityID
	}
	if f.PrincipalID != "" {
		filter["principal_id"] = f.PrincipalID
	}
	created := bson.M{}
	if !f.Since.IsZero() {
		created["$gte"] = f.Since.UnixNano()
	}
	if !f.Until.IsZero() {
		created["$lt"] = f.Until.UnixNano()
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if p.Offset > 0 {
		opts.SetSkip(int64(p.Offset))
	}
	if p.Limit > 0 {
		opts.SetLimit(int64(p.Limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*api.LogEntry
	for cur.Next(ctx) {
		var doc mongoEntryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		e, err := doc.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MongoTenantStores isolates tenants in per-tenant collections within the
// same database. Provisioned tenants are tracked in a tenants collection.
type MongoTenantStores struct {
	client  *mongo.Client
	dbName  string
	shared  *MongoAuditStore
	tenants *mongo.Collection
}

var _ TenantStores = (*MongoTenantStores)(nil)

// NewMongoTenantStores initializes the shared collection and returns the
// tenant router.
func NewMongoTenantStores(client *mongo.Client, dbName string) (*MongoTenantStores, error) {
	if dbName == "" {
		dbName = mongoDefaultDB
	}
	shared, err := NewMongoAuditStore(client, dbName)
	if err != nil {
		return nil, err
	}
	return &MongoTenantStores{
		client:  client,
		dbName:  dbName,
		shared:  shared,
		tenants: client.Database(dbName).Collection("tenants"),
	}, nil
}

func (m *MongoTenantStores) Shared() AuditStore { return m.shared }

func mongoTenantColl(tenant string) string {
	return mongoSharedColl + "_" + tenant
}

func (m *MongoTenantStores) Provision(ctx context.Context, tenant string) error {
	if !ValidTenant(tenant) {
		return errInvalidTenant
	}

	// Creating the store ensures the collection's indexes exist.
	if _, err := newMongoStoreForColl(m.client, m.dbName, mongoTenantColl(tenant)); err != nil {
		return err
	}

	_, err := m.tenants.UpdateOne(ctx,
		bson.M{"_id": tenant},
		bson.M{"$setOnInsert": bson.M{"provisioned_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoTenantStores) ForTenant(ctx context.Context, tenant string) (AuditStore, error) {
	if !ValidTenant(tenant) {
		return nil, errInvalidTenant
	}

	err := m.tenants.FindOne(ctx, bson.M{"_id": tenant}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTenantNotProvisioned
		}
		return nil, err
	}
	return newMongoStoreForColl(m.client, m.dbName, mongoTenantColl(tenant))
}
