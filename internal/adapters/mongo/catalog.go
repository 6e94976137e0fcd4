package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository is the Catalog Reader: puja types and pandit profiles
// with their approval gate. Amounts are stored as strings to keep decimals
// exact in BSON.
type CatalogRepository struct {
	pujas   *mongo.Collection
	pandits *mongo.Collection
	logger  observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		pujas:   db.Collection("puja_types"),
		pandits: db.Collection("pandits"),
		logger:  logger,
	}
}

type PujaTypeDoc struct {
	ID              uuid.UUID `bson:"_id"`
	NameEN          string    `bson:"name_en"`
	NameLocal       string    `bson:"name_local"`
	Description     string    `bson:"description,omitempty"`
	DurationMinutes int       `bson:"duration_minutes"`
	Price           string    `bson:"price"`
	Virtual         bool      `bson:"virtual"`
	CreatedAt       time.Time `bson:"created_at"`
}

type PanditDoc struct {
	ID        uuid.UUID `bson:"_id"`
	City      string    `bson:"city"`
	State     string    `bson:"state"`
	Bio       string    `bson:"bio,omitempty"`
	Approved  bool      `bson:"approved"`
	CreatedAt time.Time `bson:"created_at"`
}

func (c *CatalogRepository) GetPujaType(ctx context.Context, id uuid.UUID) (domain.PujaType, error) {
	var doc PujaTypeDoc
	err := c.pujas.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.PujaType{}, errors.Wrap(domain.ErrNotFound, "puja type")
	}
	if err != nil {
		return domain.PujaType{}, err
	}
	price, err := decimal.NewFromString(doc.Price)
	if err != nil {
		return domain.PujaType{}, err
	}
	return domain.PujaType{
		ID:              doc.ID,
		NameEN:          doc.NameEN,
		NameLocal:       doc.NameLocal,
		DurationMinutes: doc.DurationMinutes,
		Price:           price,
		Virtual:         doc.Virtual,
	}, nil
}

func (c *CatalogRepository) GetPandit(ctx context.Context, id uuid.UUID) (domain.Pandit, error) {
	var doc PanditDoc
	err := c.pandits.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.Pandit{}, errors.Wrap(domain.ErrNotFound, "pandit")
	}
	if err != nil {
		return domain.Pandit{}, err
	}
	return domain.Pandit{ID: doc.ID, City: doc.City, State: doc.State, Approved: doc.Approved}, nil
}

// ListApprovedPandits excludes unapproved pandits; booking creation only ever
// sees this view.
func (c *CatalogRepository) ListApprovedPandits(ctx context.Context) ([]domain.Pandit, error) {
	cur, err := c.pandits.Find(ctx, bson.M{"approved": true})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []domain.Pandit
	for cur.Next(ctx) {
		var doc PanditDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, domain.Pandit{ID: doc.ID, City: doc.City, State: doc.State, Approved: doc.Approved})
	}
	return out, cur.Err()
}

func (c *CatalogRepository) SetPanditApproval(ctx context.Context, id uuid.UUID, approved bool) (domain.Pandit, error) {
	var doc PanditDoc
	err := c.pandits.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"approved": approved}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.Pandit{}, errors.Wrap(domain.ErrNotFound, "pandit")
	}
	if err != nil {
		return domain.Pandit{}, err
	}
	return domain.Pandit{ID: doc.ID, City: doc.City, State: doc.State, Approved: doc.Approved}, nil
}

func (c *CatalogRepository) CreatePujaType(ctx context.Context, doc PujaTypeDoc) error {
	doc.CreatedAt = time.Now()
	_, err := c.pujas.InsertOne(ctx, doc)
	if err != nil {
		c.logger.Error("failed to create puja type", err)
	}
	return err
}

func (c *CatalogRepository) CreatePandit(ctx context.Context, doc PanditDoc) error {
	doc.CreatedAt = time.Now()
	_, err := c.pandits.InsertOne(ctx, doc)
	if err != nil {
		c.logger.Error("failed to create pandit", err)
	}
	return err
}
