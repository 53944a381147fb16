package db

import (
	"context"
	"time"

	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoUserCollection implements UserCollection for MongoDB
type MongoUserCollection struct {
	Collection *mongo.Collection
}

// InsertUser inserts a new user into the database
func (c *MongoUserCollection) InsertUser(ctx context.Context, user *models.User) error {
	if c.Collection == nil {
		return errNilCollection
	}
	now := time.Now()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedDate = now
	user.ModifiedDate = now
	user.IsActive = true

	_, err := c.Collection.InsertOne(ctx, user)
	return translate(err, "user")
}

// FindUserByID finds an active user by their ID
func (c *MongoUserCollection) FindUserByID(ctx context.Context, scope models.Scope, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := c.Collection.FindOne(ctx, scoped(scope, bson.M{"_id": id, "is_active": true})).Decode(&user)
	if err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

// FindUserByEmail finds an active user by their email
func (c *MongoUserCollection) FindUserByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	filter := bson.M{"email": email, "is_active": true}
	if tenantID != "" {
		filter["client_organization_id"] = tenantID
	}

	var user models.User
	if err := c.Collection.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

// UpdateUser replaces a user document
func (c *MongoUserCollection) UpdateUser(ctx context.Context, user *models.User) error {
	user.ModifiedDate = time.Now()

	result, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return translate(err, "user")
	}
	if result.MatchedCount == 0 {
		return translate(mongo.ErrNoDocuments, "user")
	}
	return nil
}

// DeactivateUser soft-deletes a user
func (c *MongoUserCollection) DeactivateUser(ctx context.Context, scope models.Scope, id primitive.ObjectID, at time.Time) error {
	result, err := c.Collection.UpdateOne(ctx, scoped(scope, bson.M{"_id": id, "is_active": true}), deactivate(at))
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return translate(mongo.ErrNoDocuments, "user")
	}
	return nil
}

// UpdateLastLogin updates the last login time for a user
func (c *MongoUserCollection) UpdateLastLogin(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now()
	_, err := c.Collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_login": now, "modified_date": now}},
	)
	return err
}
