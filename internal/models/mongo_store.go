package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ReservationsColName   = "reservations"
	ResourceStatusColName = "resource_status"
	CheckinsColName       = "checkins"
)

func (mdb *MongodbRepo) GetCollection(ctx context.Context, dbName, colName string) (*mongo.Collection, error) {
	if mdb.mongodbClient == nil {
		return nil, fmt.Errorf("mongodb client is not initialized")
	}
	return mdb.mongodbClient.Database(dbName).Collection(colName), nil
}

func (mdb *MongodbRepo) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	col, err := mdb.GetCollection(ctx, mdb.dbName, name)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}
	return col, nil
}

func statusStrings(statuses []ReservationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// EnsureSchema creates the indexes the store relies on, including the unique
// reservation_id index that backs one-token-per-reservation.
func (mdb *MongodbRepo) EnsureSchema(ctx context.Context) error {
	reservations, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return err
	}
	_, err = reservations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "resource_id", Value: 1},
				{Key: "date", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName("resource_date_status_idx"),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "date", Value: -1},
			},
			Options: options.Index().SetName("user_date_idx"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "paid_at", Value: 1},
			},
			Options: options.Index().SetName("status_paid_at_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("error creating reservation indexes: %w", err)
	}

	checkins, err := mdb.collection(ctx, CheckinsColName)
	if err != nil {
		return err
	}
	_, err = checkins.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "reservation_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("reservation_unique"),
	})
	if err != nil {
		return fmt.Errorf("error creating checkin indexes: %w", err)
	}
	return nil
}

// WithResourceTx runs fn inside a multi-document transaction. The first write bumps
// lock_seq on the resource's status document, so two transactions on the same resource
// always write-conflict and the driver retries the loser against fresh data.
// Transactions need a replica set or sharded cluster.
func (mdb *MongodbRepo) WithResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error {
	if mdb.mongodbClient == nil {
		return fmt.Errorf("mongodb client is not initialized")
	}
	col, err := mdb.collection(ctx, ResourceStatusColName)
	if err != nil {
		return err
	}

	session, err := mdb.mongodbClient.StartSession()
	if err != nil {
		return fmt.Errorf("error starting session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		_, err := col.UpdateOne(sc,
			bson.M{"_id": resourceID},
			bson.M{
				"$inc":         bson.M{"lock_seq": 1},
				"$setOnInsert": bson.M{"availability": AvailabilityAvailable},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return nil, fmt.Errorf("error locking resource %s: %w", resourceID, err)
		}
		return nil, fn(sc)
	})
	return err
}

func (mdb *MongodbRepo) InsertReservation(ctx context.Context, r *Reservation) error {
	col, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return err
	}
	if _, err := col.InsertOne(ctx, r); err != nil {
		return fmt.Errorf("error inserting reservation: %w", err)
	}
	return nil
}

func (mdb *MongodbRepo) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	col, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return nil, err
	}
	var r Reservation
	if err := col.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding reservation: %w", err)
	}
	return &r, nil
}

func (mdb *MongodbRepo) ListActiveForDate(ctx context.Context, resourceID, date string) ([]*Reservation, error) {
	return mdb.find(ctx, bson.M{
		"resource_id": resourceID,
		"date":        date,
		"status":      bson.M{"$in": statusStrings(ActiveStatuses)},
	}, options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}))
}

func (mdb *MongodbRepo) CountActive(ctx context.Context, resourceID string) (int64, error) {
	col, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return 0, err
	}
	n, err := col.CountDocuments(ctx, bson.M{
		"resource_id": resourceID,
		"status":      bson.M{"$in": statusStrings(ActiveStatuses)},
	})
	if err != nil {
		return 0, fmt.Errorf("error counting active reservations: %w", err)
	}
	return n, nil
}

func (mdb *MongodbRepo) TransitionStatus(ctx context.Context, id string, from []ReservationStatus, to ReservationStatus, now time.Time) (*Reservation, error) {
	col, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return nil, err
	}

	set := bson.M{"status": to, "updated_at": now}
	if to == StatusPaid {
		set["paid_at"] = now
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var r Reservation
	err = col.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": statusStrings(from)}},
		bson.M{"$set": set},
		opts,
	).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := mdb.GetReservation(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("error updating reservation status: %w", err)
	}
	return &r, nil
}

func reservationQuery(f ReservationFilter) bson.M {
	filter := bson.M{}
	if f.ResourceID != "" {
		filter["resource_id"] = f.ResourceID
	}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return filter
}

func (mdb *MongodbRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]*Reservation, int64, error) {
	col, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return nil, 0, err
	}
	filter := reservationQuery(f)

	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("error counting reservations: %w", err)
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "date", Value: -1},
		{Key: "start_time", Value: 1},
	})
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	list, err := mdb.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (mdb *MongodbRepo) ListPending(ctx context.Context) ([]*Reservation, error) {
	return mdb.find(ctx, bson.M{"status": StatusPending}, options.Find())
}

func (mdb *MongodbRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Reservation, error) {
	col, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return nil, err
	}
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var list []*Reservation
	for cursor.Next(ctx) {
		var r Reservation
		if err := cursor.Decode(&r); err != nil {
			return nil, fmt.Errorf("error decoding reservation: %w", err)
		}
		list = append(list, &r)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return list, nil
}

func (mdb *MongodbRepo) DeleteReservations(ctx context.Context, f ReservationFilter) (int64, error) {
	if f.ResourceID == "" && f.UserID == "" {
		return 0, fmt.Errorf("%w: delete requires a resource or user", ErrValidation)
	}
	matched, err := mdb.find(ctx, reservationQuery(f), options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	ids := make([]string, len(matched))
	for i, r := range matched {
		ids[i] = r.ID
	}

	checkins, err := mdb.collection(ctx, CheckinsColName)
	if err != nil {
		return 0, err
	}
	if _, err := checkins.DeleteMany(ctx, bson.M{"reservation_id": bson.M{"$in": ids}}); err != nil {
		return 0, fmt.Errorf("error deleting checkins: %w", err)
	}

	reservations, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return 0, err
	}
	res, err := reservations.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("error deleting reservations: %w", err)
	}
	return res.DeletedCount, nil
}

// RevenueByDay sums paid reservations by the local day they were paid on, from <= paid_at < to.
func (mdb *MongodbRepo) RevenueByDay(ctx context.Context, from, to time.Time, loc *time.Location) ([]DailyRevenue, error) {
	col, err := mdb.collection(ctx, ReservationsColName)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"status":  StatusPaid,
			"paid_at": bson.M{"$gte": from, "$lt": to},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateToString": bson.M{
				"format":   "%Y-%m-%d",
				"date":     "$paid_at",
				"timezone": loc.String(),
			}},
			"revenue":  bson.M{"$sum": "$total_price"},
			"bookings": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cursor, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error aggregating revenue: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []DailyRevenue
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("error decoding revenue: %w", err)
	}
	return rows, nil
}

func (mdb *MongodbRepo) GetAvailability(ctx context.Context, resourceID string) (*ResourceStatus, error) {
	col, err := mdb.collection(ctx, ResourceStatusColName)
	if err != nil {
		return nil, err
	}
	var st ResourceStatus
	if err := col.FindOne(ctx, bson.M{"_id": resourceID}).Decode(&st); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding resource status: %w", err)
	}
	return &st, nil
}

func (mdb *MongodbRepo) SetAvailability(ctx context.Context, resourceID string, a Availability, now time.Time) error {
	col, err := mdb.collection(ctx, ResourceStatusColName)
	if err != nil {
		return err
	}
	_, err = col.UpdateOne(ctx,
		bson.M{"_id": resourceID},
		bson.M{"$set": bson.M{"availability": a, "updated_at": now}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("error updating resource status: %w", err)
	}
	return nil
}

func (mdb *MongodbRepo) GetCheckin(ctx context.Context, reservationID string) (*CheckinToken, error) {
	col, err := mdb.collection(ctx, CheckinsColName)
	if err != nil {
		return nil, err
	}
	var t CheckinToken
	if err := col.FindOne(ctx, bson.M{"reservation_id": reservationID}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding checkin: %w", err)
	}
	return &t, nil
}

func (mdb *MongodbRepo) InsertCheckin(ctx context.Context, t *CheckinToken) error {
	col, err := mdb.collection(ctx, CheckinsColName)
	if err != nil {
		return err
	}
	if _, err := col.InsertOne(ctx, t); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("error inserting checkin: %w", err)
	}
	return nil
}

func (mdb *MongodbRepo) ConsumeCheckin(ctx context.Context, reservationID string, now time.Time) (*CheckinToken, error) {
	col, err := mdb.collection(ctx, CheckinsColName)
	if err != nil {
		return nil, err
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t CheckinToken
	err = col.FindOneAndUpdate(ctx,
		bson.M{"reservation_id": reservationID, "consumed": false},
		bson.M{"$set": bson.M{"consumed": true, "consumed_at": now}},
		opts,
	).Decode(&t)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error consuming checkin: %w", err)
	}

	existing, err := mdb.GetCheckin(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return nil, consumedError(existing)
}

func consumedError(t *CheckinToken) error {
	e := &AlreadyConsumedError{}
	if t.ConsumedAt != nil {
		e.ConsumedAt = *t.ConsumedAt
	}
	return e
}
