package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/delfinzap/realtime/internal/constants"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when no user document exists for the given id
var ErrNotFound = errors.New("principal not found")

// userDocument is the BSON shape of a CRM user as stored in MongoDB.
// The allTicket flag is stored as the string "enabled"/"disabled".
type userDocument struct {
	ID        string   `bson:"_id"`
	CompanyID string   `bson:"companyId"`
	Profile   string   `bson:"profile"`
	QueueIDs  []string `bson:"queueIds"`
	AllTicket string   `bson:"allTicket"`
	Online    bool     `bson:"online"`
}

// MongoStore loads principals from the CRM's users and queues collections
// and writes the presence flag back.
type MongoStore struct {
	users  *gomongo.MongoCollection
	queues *gomongo.MongoCollection
	logger *golog.Logger
}

// NewMongoStore creates a principal store over the given database.
//
// Parameters:
//
//	mongo: gomongo.Mongo instance (from gomongo.InitMongoDB)
//	dbName: database holding the CRM collections
//	logger: structured logger for store operations
func NewMongoStore(mongo *gomongo.Mongo, dbName string, logger *golog.Logger) *MongoStore {
	return &MongoStore{
		users:  mongo.Coll(dbName, constants.CollectionUsers),
		queues: mongo.Coll(dbName, constants.CollectionQueues),
		logger: logger.WithGroup("principal"),
	}
}

// FindByID loads a principal and its queue assignments.
// Returns ErrNotFound when no user document exists for the id.
func (s *MongoStore) FindByID(ctx context.Context, id string) (*Principal, error) {
	// No else needed: early return pattern (guard clause)
	if id == "" {
		return nil, ErrNotFound
	}

	var doc userDocument
	err := s.users.FindOne(ctx, bson.M{constants.MongoFieldID: id}).Decode(&doc)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}

	queues, err := s.loadQueues(ctx, doc.QueueIDs)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	return &Principal{
		ID:        doc.ID,
		CompanyID: doc.CompanyID,
		Profile:   doc.Profile,
		Queues:    queues,
		AllTicket: doc.AllTicket == constants.AllTicketEnabled,
		Online:    doc.Online,
	}, nil
}

// loadQueues resolves queue ids to queue documents in one query.
func (s *MongoStore) loadQueues(ctx context.Context, ids []string) ([]Queue, error) {
	// No else needed: early return pattern (guard clause)
	if len(ids) == 0 {
		return nil, nil
	}

	filter := bson.M{constants.MongoFieldID: bson.M{"$in": ids}}
	queryOpts := gomongo.QueryOptions{
		Sort: bson.D{{Key: "name", Value: 1}},
	}

	cursor, err := s.queues.Find(ctx, filter, queryOpts)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to load queues: %w", err)
	}
	defer cursor.Close(ctx)

	queues := make([]Queue, 0, len(ids))
	for cursor.Next(ctx) {
		var q Queue
		if err := cursor.Decode(&q); err != nil {
			return nil, fmt.Errorf("failed to decode queue document: %w", err)
		}
		queues = append(queues, q)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return queues, nil
}

// SetOnline updates the presence flag. Failures are returned but callers
// treat them as best-effort: presence never gates connection lifecycle.
func (s *MongoStore) SetOnline(ctx context.Context, id string, online bool) error {
	filter := bson.M{constants.MongoFieldID: id}
	update := bson.M{"$set": bson.M{constants.MongoFieldOnline: online}}

	result, err := s.users.UpdateOne(ctx, filter, update)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}

	// No else needed: early return pattern (guard clause)
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

// EnsureIndexes creates the indexes the gateway queries against.
// Idempotent; called once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	companyIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: constants.MongoFieldCompanyID, Value: 1}},
		Options: options.Index().SetName(constants.IndexCompanyID),
	}

	onlineIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: constants.MongoFieldOnline, Value: 1}},
		Options: options.Index().SetName(constants.IndexOnline),
	}

	_, err := s.users.CreateIndexes(ctx, []mongo.IndexModel{companyIndex, onlineIndex})
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create principal indexes: %w", err)
	}

	s.logger.Info("Principal indexes ensured",
		"collection", constants.CollectionUsers)
	return nil
}
