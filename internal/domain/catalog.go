package domain

import "go.mongodb.org/mongo-driver/bson/primitive"

// UnitOfMeasure is the unit a product is stocked in.
type UnitOfMeasure string

const (
	UnitLiter    UnitOfMeasure = "liter"
	UnitKilogram UnitOfMeasure = "kilogram"
	UnitBox      UnitOfMeasure = "box"
	UnitPiece    UnitOfMeasure = "piece"
	UnitMeter    UnitOfMeasure = "meter"
	UnitPack     UnitOfMeasure = "pack"
	UnitBottle   UnitOfMeasure = "bottle"
)

func (u UnitOfMeasure) IsValid() bool {
	switch u {
	case UnitLiter, UnitKilogram, UnitBox, UnitPiece, UnitMeter, UnitPack, UnitBottle:
		return true
	default:
		return false
	}
}

// Product is a catalog entry. The catalog is maintained elsewhere; this
// service reads products and increments CurrentStock on verification.
type Product struct {
	ID                   primitive.ObjectID `bson:"_id" json:"id"`
	Name                 string             `bson:"name" json:"name"`
	Unit                 UnitOfMeasure      `bson:"unit" json:"unit"`
	CategoryID           string             `bson:"categoryId,omitempty" json:"categoryId,omitempty"`
	Image                string             `bson:"image,omitempty" json:"image,omitempty"`
	MinQty               float64            `bson:"minQty" json:"minQty"`
	RecommendedQty       float64            `bson:"recommendedQty" json:"recommendedQty"`
	ExpectedLifetimeDays *int               `bson:"expectedLifetimeDays,omitempty" json:"expectedLifetimeDays,omitempty"`
	CurrentStock         float64            `bson:"currentStock" json:"currentStock"`
}

// Supplier is a read-only vendor record.
type Supplier struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	Name        string             `bson:"name" json:"name"`
	ContactName string             `bson:"contactName,omitempty" json:"contactName,omitempty"`
	Phone       string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Email       string             `bson:"email,omitempty" json:"email,omitempty"`
	Address     string             `bson:"address,omitempty" json:"address,omitempty"`
	CategoryIDs []string           `bson:"categoryIds,omitempty" json:"categoryIds,omitempty"`
	Active      bool               `bson:"active" json:"active"`
}
