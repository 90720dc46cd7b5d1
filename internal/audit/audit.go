// Package audit is the append-only trail of parameter writes (a feature
// the distilled spec omits but the Parameter Service's write path
// naturally wants for traceability): when a Mongo URI is configured, the
// API's parameter-write handlers record each successful write here before
// replying. Failed writes are not recorded.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entry is one recorded parameter write.
type Entry struct {
	At       time.Time `bson:"at"`
	ComPort  string    `bson:"com_port"`
	SlaveID  byte      `bson:"slave_id"`
	ParamID  int       `bson:"param_id"`
	Value    float64   `bson:"value"`
	Success  bool      `bson:"success"`
	ErrorMsg string    `bson:"error_msg,omitempty"`
}

// Trail is a thin wrapper over one MongoDB collection.
type Trail struct {
	coll *mongo.Collection
}

// Connect dials uri and returns a Trail backed by database.parameter_audit.
func Connect(ctx context.Context, uri, database string) (*Trail, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return &Trail{coll: client.Database(database).Collection("parameter_audit")}, nil
}

// Record inserts e. The API handler discards a Record error, so a failure
// to write the audit record never blocks the parameter write itself from
// returning.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := t.coll.InsertOne(ctx, e)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// History returns the most recent entries for one device, newest first.
func (t *Trail) History(ctx context.Context, comPort string, slaveID byte, limit int64) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(limit)
	cur, err := t.coll.Find(ctx, bson.M{"com_port": comPort, "slave_id": slaveID}, opts)
	if err != nil {
		return nil, fmt.Errorf("audit: find: %w", err)
	}
	defer cur.Close(ctx)

	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("audit: decode: %w", err)
	}
	return out, nil
}
