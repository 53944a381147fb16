package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBusFeeCollection implements BusFeeCollection and FeeAdvancer for MongoDB.
type MongoBusFeeCollection struct {
	Collection *mongo.Collection
}

// InsertBusFees inserts a whole fee schedule with one InsertMany.
func (c *MongoBusFeeCollection) InsertBusFees(ctx context.Context, fees []models.StudentBusFee) error {
	if c.Collection == nil {
		return errNilCollection
	}
	if len(fees) == 0 {
		return nil
	}
	docs := make([]interface{}, len(fees))
	for i := range fees {
		docs[i] = fees[i]
	}
	if _, err := c.Collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert bus fees: %w", translate(err, "bus fee"))
	}
	return nil
}

// FindActiveBusFees lists the student's active installments by due date.
func (c *MongoBusFeeCollection) FindActiveBusFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) ([]models.StudentBusFee, error) {
	opts := options.Find().SetSort(bson.D{{Key: "due_date", Value: 1}})
	cursor, err := c.Collection.Find(ctx, scoped(scope, bson.M{"student_id": studentID, "is_active": true}), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	fees := []models.StudentBusFee{}
	if err := cursor.All(ctx, &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

// CountOutstandingBusFees counts active installments still expecting payment.
func (c *MongoBusFeeCollection) CountOutstandingBusFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (int64, error) {
	filter := scoped(scope, bson.M{
		"student_id": studentID,
		"is_active":  true,
		"status":     bson.M{"$in": models.OutstandingFeeStatuses},
	})
	return c.Collection.CountDocuments(ctx, filter)
}

// DeactivateBusFees soft-deletes every active installment of a student.
func (c *MongoBusFeeCollection) DeactivateBusFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	if c.Collection == nil {
		return 0, errNilCollection
	}
	result, err := c.Collection.UpdateMany(ctx, scoped(scope, bson.M{"student_id": studentID, "is_active": true}), deactivate(at))
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// AdvanceStatuses moves active bus installments forward. See advanceStatuses.
func (c *MongoBusFeeCollection) AdvanceStatuses(ctx context.Context, now time.Time, lead time.Duration) (AdvanceResult, error) {
	return advanceStatuses(ctx, c.Collection, now, lead)
}

// MongoStudentFeeCollection implements StudentFeeCollection and FeeAdvancer.
type MongoStudentFeeCollection struct {
	Collection *mongo.Collection
	Structures *mongo.Collection
}

// FindFeesStructure returns the active fee plan for a class and academic year.
func (c *MongoStudentFeeCollection) FindFeesStructure(ctx context.Context, scope models.Scope, classID, academicYearID primitive.ObjectID) (*models.FeesStructure, error) {
	var fs models.FeesStructure
	filter := scoped(scope, bson.M{"class_id": classID, "academic_year_id": academicYearID, "is_active": true})
	opts := options.FindOne().SetSort(bson.D{{Key: "created_date", Value: -1}})
	if err := c.Structures.FindOne(ctx, filter, opts).Decode(&fs); err != nil {
		return nil, translate(err, "fees structure")
	}
	return &fs, nil
}

// InsertStudentFees inserts an academic fee schedule with one InsertMany.
func (c *MongoStudentFeeCollection) InsertStudentFees(ctx context.Context, fees []models.StudentFee) error {
	if len(fees) == 0 {
		return nil
	}
	docs := make([]interface{}, len(fees))
	for i := range fees {
		docs[i] = fees[i]
	}
	if _, err := c.Collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert student fees: %w", translate(err, "student fee"))
	}
	return nil
}

// DeactivateStudentFees soft-deletes every active academic installment of a student.
func (c *MongoStudentFeeCollection) DeactivateStudentFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	result, err := c.Collection.UpdateMany(ctx, scoped(scope, bson.M{"student_id": studentID, "is_active": true}), deactivate(at))
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// AdvanceStatuses moves active academic installments forward.
func (c *MongoStudentFeeCollection) AdvanceStatuses(ctx context.Context, now time.Time, lead time.Duration) (AdvanceResult, error) {
	return advanceStatuses(ctx, c.Collection, now, lead)
}

// advanceStatuses applies schedule.Advance as two UpdateMany calls: unpaid
// installments past their due date become overdue, then not_started ones
// within lead of their due date become pending. Re-running is a no-op.
func advanceStatuses(ctx context.Context, coll *mongo.Collection, now time.Time, lead time.Duration) (AdvanceResult, error) {
	var res AdvanceResult
	if coll == nil {
		return res, errNilCollection
	}

	overdue, err := coll.UpdateMany(ctx,
		bson.M{
			"is_active": true,
			"status":    bson.M{"$in": []models.FeeStatus{models.FeeNotStarted, models.FeePending}},
			"due_date":  bson.M{"$lt": now},
		},
		bson.M{"$set": bson.M{"status": models.FeeOverdue, "modified_date": now}},
	)
	if err != nil {
		return res, fmt.Errorf("mark overdue: %w", err)
	}
	res.Overdue = overdue.ModifiedCount

	activated, err := coll.UpdateMany(ctx,
		bson.M{
			"is_active": true,
			"status":    models.FeeNotStarted,
			"due_date":  bson.M{"$lte": now.Add(lead)},
		},
		bson.M{"$set": bson.M{"status": models.FeePending, "modified_date": now}},
	)
	if err != nil {
		return res, fmt.Errorf("activate installments: %w", err)
	}
	res.Activated = activated.ModifiedCount
	return res, nil
}
