// Package ticket loads conversation tickets for join authorization.
package ticket

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

// ErrNotFound is returned when no ticket document exists for the given id
var ErrNotFound = errors.New("ticket not found")

// Ticket is the slice of a CRM ticket the gateway needs for authorization:
// who owns it, which tenant it belongs to, and its workflow status.
type Ticket struct {
	ID        string `bson:"_id" json:"id"`
	CompanyID string `bson:"companyId" json:"companyId"`
	UserID    string `bson:"userId" json:"userId"`
	Status    string `bson:"status" json:"status"`
}

// MongoStore loads tickets from the CRM's tickets collection.
type MongoStore struct {
	tickets *gomongo.MongoCollection
	logger  *golog.Logger
}

// NewMongoStore creates a ticket store over the given database.
func NewMongoStore(mongo *gomongo.Mongo, dbName string, logger *golog.Logger) *MongoStore {
	return &MongoStore{
		tickets: mongo.Coll(dbName, constants.CollectionTickets),
		logger:  logger.WithGroup("ticket"),
	}
}

// FindByID loads a ticket by id. Returns ErrNotFound when no document exists.
func (s *MongoStore) FindByID(ctx context.Context, id string) (*Ticket, error) {
	// No else needed: early return pattern (guard clause)
	if id == "" {
		return nil, ErrNotFound
	}

	var t Ticket
	err := s.tickets.FindOne(ctx, bson.M{constants.MongoFieldID: id}).Decode(&t)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}

	return &t, nil
}

// EnsureIndexes creates the company index used by authorization lookups.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	companyIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: constants.MongoFieldCompanyID, Value: 1}},
		Options: options.Index().SetName(constants.IndexTicketCompany),
	}

	_, err := s.tickets.CreateIndexes(ctx, []mongo.IndexModel{companyIndex})
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create ticket indexes: %w", err)
	}

	s.logger.Info("Ticket indexes ensured",
		"collection", constants.CollectionTickets)
	return nil
}
