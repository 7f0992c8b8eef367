package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wms-platform/purchasing-service/internal/domain"
)

const SuppliersCollection = "suppliers"

// objectIDs converts hex ids, silently dropping the malformed ones. A
// malformed id can never match so it is reported as missing by the caller.
func objectIDs(ids []string) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil || seen[oid] {
			continue
		}
		seen[oid] = true
		out = append(out, oid)
	}
	return out
}

// ProductRepository reads the product catalog.
type ProductRepository struct {
	collection *mongo.Collection
}

func NewProductRepository(db *mongo.Database) *ProductRepository {
	return &ProductRepository{collection: db.Collection(ProductsCollection)}
}

func (r *ProductRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product)
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return products, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var p domain.Product
		if err := cursor.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		products[p.ID.Hex()] = &p
	}
	return products, cursor.Err()
}

// SupplierRepository reads supplier records.
type SupplierRepository struct {
	collection *mongo.Collection
}

func NewSupplierRepository(db *mongo.Database) *SupplierRepository {
	return &SupplierRepository{collection: db.Collection(SuppliersCollection)}
}

func (r *SupplierRepository) FindByID(ctx context.Context, id string) (*domain.Supplier, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrSupplierNotFound
	}

	var s domain.Supplier
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSupplierNotFound
		}
		return nil, fmt.Errorf("failed to find supplier: %w", err)
	}
	return &s, nil
}

func (r *SupplierRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*domain.Supplier, error) {
	suppliers := make(map[string]*domain.Supplier)
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return suppliers, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find suppliers: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var s domain.Supplier
		if err := cursor.Decode(&s); err != nil {
			return nil, fmt.Errorf("failed to decode supplier: %w", err)
		}
		suppliers[s.ID.Hex()] = &s
	}
	return suppliers, cursor.Err()
}
