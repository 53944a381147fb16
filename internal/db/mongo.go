package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/config"
	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UsersCollection          = "users"
	TransportsCollection     = "transports"
	StudentClassesCollection = "student_classes"
	StudentBusesCollection   = "student_buses"
	StudentBusFeesCollection = "student_bus_fees"
	FeesStructuresCollection = "fees_structures"
	StudentFeesCollection    = "student_fees"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidID     = errors.New("invalid id")
	errNilCollection = errors.New("mongo collection is nil")
)

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(cfg config.MongoConfig) (*mongo.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// Store groups the collections of one database and runs transactions over them.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	Users          *MongoUserCollection
	Transports     *MongoTransportCollection
	StudentClasses *MongoStudentClassCollection
	StudentBuses   *MongoStudentBusCollection
	BusFees        *MongoBusFeeCollection
	StudentFees    *MongoStudentFeeCollection
}

// NewStore binds the typed collections to database name.
func NewStore(client *mongo.Client, name string) *Store {
	database := client.Database(name)
	return &Store{
		client:         client,
		db:             database,
		Users:          &MongoUserCollection{Collection: database.Collection(UsersCollection)},
		Transports:     &MongoTransportCollection{Collection: database.Collection(TransportsCollection)},
		StudentClasses: &MongoStudentClassCollection{Collection: database.Collection(StudentClassesCollection)},
		StudentBuses:   &MongoStudentBusCollection{Collection: database.Collection(StudentBusesCollection)},
		BusFees:        &MongoBusFeeCollection{Collection: database.Collection(StudentBusFeesCollection)},
		StudentFees: &MongoStudentFeeCollection{
			Collection: database.Collection(StudentFeesCollection),
			Structures: database.Collection(FeesStructuresCollection),
		},
	}
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// WithTransaction runs fn inside a MongoDB transaction. When ctx already
// carries a session, fn joins that transaction instead of starting another.
// Transactions need a replica set or sharded cluster.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the indexes the service relies on. Partial unique
// indexes keep at most one active assignment per student and one active user
// per email within a tenant.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		UsersCollection: {
			{
				Keys: bson.D{{Key: "client_organization_id", Value: 1}, {Key: "email", Value: 1}},
				Options: options.Index().
					SetName("uniq_active_user_email").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_active": true}),
			},
		},
		StudentClassesCollection: {
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "is_active", Value: 1}}},
			{Keys: bson.D{{Key: "client_organization_id", Value: 1}, {Key: "class_id", Value: 1}, {Key: "section_id", Value: 1}}},
		},
		StudentBusesCollection: {
			{
				Keys: bson.D{{Key: "student_id", Value: 1}},
				Options: options.Index().
					SetName("uniq_active_student_bus").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_active": true}),
			},
		},
		StudentBusFeesCollection: {
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "is_active", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
		},
		StudentFeesCollection: {
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "is_active", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
		},
		FeesStructuresCollection: {
			{Keys: bson.D{{Key: "client_organization_id", Value: 1}, {Key: "class_id", Value: 1}, {Key: "academic_year_id", Value: 1}}},
		},
	}

	for name, specs := range indexes {
		created, err := s.db.Collection(name).Indexes().CreateMany(ctx, specs)
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
		log.WithFields(log.Fields{"collection": name, "indexes": created}).Debug("Ensured indexes")
	}
	return nil
}

// ParseID converts a hex string to an ObjectID.
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, hex)
	}
	return id, nil
}

// scoped adds the tenant condition to filter unless the scope is global.
func scoped(scope models.Scope, filter bson.M) bson.M {
	if !scope.Global {
		filter["client_organization_id"] = scope.TenantID
	}
	return filter
}

// translate maps driver errors onto the package sentinels.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s %w", what, ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	default:
		return err
	}
}

func deactivate(at time.Time) bson.M {
	return bson.M{"$set": bson.M{"is_active": false, "modified_date": at}}
}
