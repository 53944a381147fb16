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

// MongoStudentClassCollection implements StudentClassCollection for MongoDB.
type MongoStudentClassCollection struct {
	Collection *mongo.Collection
}

// InsertStudentClass inserts an enrollment record.
func (c *MongoStudentClassCollection) InsertStudentClass(ctx context.Context, sc *models.StudentClass) error {
	if c.Collection == nil {
		return errNilCollection
	}
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	sc.IsActive = true
	_, err := c.Collection.InsertOne(ctx, sc)
	return translate(err, "student class")
}

// FindActiveStudentClass returns the student's active enrollment.
func (c *MongoStudentClassCollection) FindActiveStudentClass(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (*models.StudentClass, error) {
	var sc models.StudentClass
	opts := options.FindOne().SetSort(bson.D{{Key: "created_date", Value: -1}})
	err := c.Collection.FindOne(ctx, scoped(scope, bson.M{"student_id": studentID, "is_active": true}), opts).Decode(&sc)
	if err != nil {
		return nil, translate(err, "student class")
	}
	return &sc, nil
}

// FindStudentClasses lists active enrollments matching filter.
func (c *MongoStudentClassCollection) FindStudentClasses(ctx context.Context, scope models.Scope, filter StudentClassFilter) ([]models.StudentClass, error) {
	query := bson.M{"is_active": true}
	if !filter.ClassID.IsZero() {
		query["class_id"] = filter.ClassID
	}
	if !filter.SectionID.IsZero() {
		query["section_id"] = filter.SectionID
	}
	if !filter.AcademicYearID.IsZero() {
		query["academic_year_id"] = filter.AcademicYearID
	}

	opts := options.Find().SetSort(bson.D{{Key: "roll_number", Value: 1}})
	cursor, err := c.Collection.Find(ctx, scoped(scope, query), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	classes := []models.StudentClass{}
	if err := cursor.All(ctx, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// UpdateStudentClass replaces an enrollment record.
func (c *MongoStudentClassCollection) UpdateStudentClass(ctx context.Context, sc *models.StudentClass) error {
	result, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": sc.ID}, sc)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return translate(mongo.ErrNoDocuments, "student class")
	}
	return nil
}

// DeactivateStudentClasses soft-deletes all active enrollments of a student.
func (c *MongoStudentClassCollection) DeactivateStudentClasses(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	result, err := c.Collection.UpdateMany(ctx, scoped(scope, bson.M{"student_id": studentID, "is_active": true}), deactivate(at))
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// MongoStudentBusCollection implements StudentBusCollection for MongoDB.
type MongoStudentBusCollection struct {
	Collection *mongo.Collection
}

// InsertStudentBus inserts a bus assignment. A second active assignment for
// the same student is rejected by the partial unique index with ErrDuplicate.
func (c *MongoStudentBusCollection) InsertStudentBus(ctx context.Context, sb *models.StudentBus) error {
	if c.Collection == nil {
		return errNilCollection
	}
	if sb.ID.IsZero() {
		sb.ID = primitive.NewObjectID()
	}
	sb.IsActive = true
	_, err := c.Collection.InsertOne(ctx, sb)
	return translate(err, "student bus")
}

// FindActiveStudentBus returns the student's active bus assignment.
func (c *MongoStudentBusCollection) FindActiveStudentBus(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (*models.StudentBus, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var sb models.StudentBus
	err := c.Collection.FindOne(ctx, scoped(scope, bson.M{"student_id": studentID, "is_active": true})).Decode(&sb)
	if err != nil {
		return nil, translate(err, "student bus")
	}
	return &sb, nil
}

// FindStudentBusByID finds an active bus assignment by its ID.
func (c *MongoStudentBusCollection) FindStudentBusByID(ctx context.Context, scope models.Scope, id primitive.ObjectID) (*models.StudentBus, error) {
	var sb models.StudentBus
	err := c.Collection.FindOne(ctx, scoped(scope, bson.M{"_id": id, "is_active": true})).Decode(&sb)
	if err != nil {
		return nil, translate(err, "student bus")
	}
	return &sb, nil
}

// UpdateStudentBus replaces a bus assignment.
func (c *MongoStudentBusCollection) UpdateStudentBus(ctx context.Context, sb *models.StudentBus) error {
	result, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": sb.ID}, sb)
	if err != nil {
		return translate(err, "student bus")
	}
	if result.MatchedCount == 0 {
		return translate(mongo.ErrNoDocuments, "student bus")
	}
	return nil
}

// DeactivateStudentBuses soft-deletes every active assignment of a student.
func (c *MongoStudentBusCollection) DeactivateStudentBuses(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	if c.Collection == nil {
		return 0, errNilCollection
	}
	result, err := c.Collection.UpdateMany(ctx, scoped(scope, bson.M{"student_id": studentID, "is_active": true}), deactivate(at))
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}
