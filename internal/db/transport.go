package db

import (
	"context"
	"time"

	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTransportCollection implements TransportCollection for MongoDB.
type MongoTransportCollection struct {
	Collection *mongo.Collection
}

// InsertTransport inserts a transport record into the collection.
func (c *MongoTransportCollection) InsertTransport(ctx context.Context, transport *models.Transport) error {
	if c.Collection == nil {
		return errNilCollection
	}
	now := time.Now()
	if transport.ID.IsZero() {
		transport.ID = primitive.NewObjectID()
	}
	transport.IsActive = true
	transport.CreatedDate = now
	transport.ModifiedDate = now

	_, err := c.Collection.InsertOne(ctx, transport)
	return translate(err, "transport")
}

// FindTransports lists the active transports in scope, ordered by vehicle number.
func (c *MongoTransportCollection) FindTransports(ctx context.Context, scope models.Scope) ([]models.Transport, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	opts := options.Find().SetSort(bson.D{{Key: "vehicle_number", Value: 1}})
	cursor, err := c.Collection.Find(ctx, scoped(scope, bson.M{"is_active": true}), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	transports := []models.Transport{}
	if err := cursor.All(ctx, &transports); err != nil {
		return nil, err
	}
	return transports, nil
}

// FindTransportByID finds an active transport by its ID.
func (c *MongoTransportCollection) FindTransportByID(ctx context.Context, scope models.Scope, id primitive.ObjectID) (*models.Transport, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var transport models.Transport
	err := c.Collection.FindOne(ctx, scoped(scope, bson.M{"_id": id, "is_active": true})).Decode(&transport)
	if err != nil {
		return nil, translate(err, "transport")
	}
	return &transport, nil
}

// UpdateTransport replaces a transport by its ID.
func (c *MongoTransportCollection) UpdateTransport(ctx context.Context, transport *models.Transport) error {
	if c.Collection == nil {
		return errNilCollection
	}
	transport.ModifiedDate = time.Now()

	result, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": transport.ID, "is_active": true}, transport)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return translate(mongo.ErrNoDocuments, "transport")
	}
	return nil
}

// DeactivateTransport soft-deletes a transport by its ID.
func (c *MongoTransportCollection) DeactivateTransport(ctx context.Context, scope models.Scope, id primitive.ObjectID, at time.Time) error {
	if c.Collection == nil {
		return errNilCollection
	}
	result, err := c.Collection.UpdateOne(ctx, scoped(scope, bson.M{"_id": id, "is_active": true}), deactivate(at))
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return translate(mongo.ErrNoDocuments, "transport")
	}
	return nil
}
