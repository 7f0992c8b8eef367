package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
	mongopkg "github.com/wms-platform/purchasing-service/pkg/mongodb"
	"github.com/wms-platform/purchasing-service/pkg/outbox"
	outboxMongo "github.com/wms-platform/purchasing-service/pkg/outbox/mongodb"
)

const (
	OrdersCollection   = "purchase_orders"
	ProductsCollection = "products"
	aggregateType      = "PurchaseOrder"
)

// OrderRepository implements domain.OrderRepository. Save writes the order,
// the stock increments of a verification and the outbox events in one
// transaction, so it needs a replica set or sharded cluster.
type OrderRepository struct {
	db           *mongo.Database
	collection   *mongo.Collection
	products     *mongo.Collection
	outboxRepo   *outboxMongo.OutboxRepository
	eventFactory *cloudevents.EventFactory
	topic        string
}

func NewOrderRepository(db *mongo.Database, eventFactory *cloudevents.EventFactory, topic string) *OrderRepository {
	return &OrderRepository{
		db:           db,
		collection:   db.Collection(OrdersCollection),
		products:     db.Collection(ProductsCollection),
		outboxRepo:   outboxMongo.NewOutboxRepository(db),
		eventFactory: eventFactory,
		topic:        topic,
	}
}

// GetOutboxRepository exposes the outbox the publisher drains.
func (r *OrderRepository) GetOutboxRepository() outbox.Repository {
	return r.outboxRepo
}

// EnsureIndexes creates the order indexes and the outbox indexes.
func (r *OrderRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "orderNumber", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "staffId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "createdBy", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "supplierId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "paidDate", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "productOrders.expirationDate", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{
				"productOrders.expirationDate": bson.M{"$exists": true},
			}),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return r.outboxRepo.EnsureIndexes(ctx)
}

// Save inserts a new order (Version 0) or replaces the stored one when its
// version still matches. On success the order's version is bumped and its
// domain events are cleared.
func (r *OrderRepository) Save(ctx context.Context, order *domain.PurchaseOrder) error {
	outboxEvents, err := r.outboxEvents(ctx, order)
	if err != nil {
		return err
	}
	receipts := stockReceipts(order)

	expected := order.Version
	doc := *order
	doc.Version = expected + 1

	session, err := r.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if expected == 0 {
			if _, err := r.collection.InsertOne(sessCtx, &doc); err != nil {
				if mongopkg.IsDuplicateKey(err) {
					return nil, domain.ErrDuplicateOrderNumber
				}
				return nil, fmt.Errorf("failed to insert order: %w", err)
			}
		} else {
			filter := bson.M{"_id": order.ID, "version": expected}
			res, err := r.collection.ReplaceOne(sessCtx, filter, &doc)
			if err != nil {
				return nil, fmt.Errorf("failed to update order: %w", err)
			}
			if res.MatchedCount == 0 {
				return nil, domain.ErrConcurrentModification
			}
		}

		if err := r.incrementStock(sessCtx, receipts); err != nil {
			return nil, err
		}

		if err := r.outboxRepo.SaveAll(sessCtx, outboxEvents); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	order.Version = doc.Version
	order.ClearDomainEvents()
	return nil
}

func stockReceipts(order *domain.PurchaseOrder) []domain.StockReceipt {
	var receipts []domain.StockReceipt
	for _, evt := range order.GetDomainEvents() {
		if verified, ok := evt.(*domain.OrderVerifiedEvent); ok {
			receipts = append(receipts, verified.Receipts...)
		}
	}
	return receipts
}

// incrementStock applies every receipt with an atomic $inc. A receipt for a
// product that no longer exists aborts the transaction.
func (r *OrderRepository) incrementStock(ctx context.Context, receipts []domain.StockReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(receipts))
	for _, receipt := range receipts {
		oid, err := primitive.ObjectIDFromHex(receipt.ProductID)
		if err != nil {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, receipt.ProductID)
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": oid}).
			SetUpdate(bson.M{"$inc": bson.M{"currentStock": receipt.Quantity}}))
	}

	res, err := r.products.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	if res.MatchedCount != int64(len(models)) {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *OrderRepository) outboxEvents(ctx context.Context, order *domain.PurchaseOrder) ([]*outbox.OutboxEvent, error) {
	domainEvents := order.GetDomainEvents()
	if len(domainEvents) == 0 {
		return nil, nil
	}

	subject := "purchase-order/" + order.ID.Hex()
	events := make([]*outbox.OutboxEvent, 0, len(domainEvents))
	for _, event := range domainEvents {
		ce := r.eventFactory.CreateEvent(ctx, event.EventType(), subject, event)
		outboxEvent, err := outbox.NewOutboxEventFromCloudEvent(order.ID.Hex(), aggregateType, r.topic, ce)
		if err != nil {
			return nil, fmt.Errorf("failed to create outbox event: %w", err)
		}
		events = append(events, outboxEvent)
	}
	return events, nil
}

// FindByID retrieves an order by its hex id
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}

	var order domain.PurchaseOrder
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

// buildFilter translates an OrderFilter into a query document.
func buildFilter(filter domain.OrderFilter) bson.M {
	query := bson.M{}
	if filter.OrderNumber != "" {
		query["orderNumber"] = bson.M{"$regex": regexp.QuoteMeta(filter.OrderNumber), "$options": "i"}
	}
	if filter.StaffID != "" {
		query["staffId"] = filter.StaffID
	}
	if filter.Status != nil {
		query["status"] = *filter.Status
	}
	if len(filter.SupplierIDs) > 0 {
		query["supplierId"] = bson.M{"$in": filter.SupplierIDs}
	}
	if filter.VisibleTo != "" {
		query["$or"] = bson.A{
			bson.M{"createdBy": filter.VisibleTo},
			bson.M{"staffId": filter.VisibleTo},
		}
	}
	return query
}

func (r *OrderRepository) FindAll(ctx context.Context, filter domain.OrderFilter, sort domain.Sort, pagination domain.Pagination) ([]*domain.PurchaseOrder, error) {
	direction := -1
	if sort.Ascending {
		direction = 1
	}
	field := sort.Field
	if !domain.SortableFields[field] {
		field = domain.DefaultSort().Field
	}

	opts := options.Find().
		SetSort(bson.D{{Key: field, Value: direction}, {Key: "_id", Value: direction}}).
		SetSkip(pagination.Skip()).
		SetLimit(pagination.Limit())

	cursor, err := r.collection.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := make([]*domain.PurchaseOrder, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) Count(ctx context.Context, filter domain.OrderFilter) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, buildFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of orders per status
func (r *OrderRepository) CountByStatus(ctx context.Context, filter domain.OrderFilter) (map[domain.OrderStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: buildFilter(filter)}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders by status: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[domain.OrderStatus]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status domain.OrderStatus `bson:"_id"`
			Count  int64              `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}

// PaidSince counts and sums the orders paid at or after since.
func (r *OrderRepository) PaidSince(ctx context.Context, filter domain.OrderFilter, since time.Time) (int64, float64, error) {
	match := buildFilter(filter)
	match["status"] = domain.StatusPaid
	match["paidDate"] = bson.M{"$gte": since}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": 1},
			"value": bson.M{"$sum": "$totalAmount"},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum paid orders: %w", err)
	}
	defer cursor.Close(ctx)

	var row struct {
		Count int64   `bson:"count"`
		Value float64 `bson:"value"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&row); err != nil {
			return 0, 0, err
		}
	}
	return row.Count, row.Value, cursor.Err()
}

var bucketFormats = map[domain.BucketUnit]string{
	domain.BucketDay:   "%Y-%m-%d",
	domain.BucketMonth: "%Y-%m",
}

// AggregateBuckets groups orders created inside the range by UTC day or
// month. Buckets without orders are not returned.
func (r *OrderRepository) AggregateBuckets(ctx context.Context, filter domain.OrderFilter, rng domain.AnalyticsRange) ([]domain.BucketTotals, error) {
	match := buildFilter(filter)
	match["createdAt"] = bson.M{"$gte": rng.From, "$lt": rng.To}

	isStatus := func(s domain.OrderStatus) bson.M {
		return bson.M{"$eq": bson.A{"$status", s}}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateToString": bson.M{
				"format":   bucketFormats[rng.Unit],
				"date":     "$createdAt",
				"timezone": "UTC",
			}},
			"count":         bson.M{"$sum": 1},
			"totalAmount":   bson.M{"$sum": "$totalAmount"},
			"paidCount":     bson.M{"$sum": bson.M{"$cond": bson.A{isStatus(domain.StatusPaid), 1, 0}}},
			"paidAmount":    bson.M{"$sum": bson.M{"$cond": bson.A{isStatus(domain.StatusPaid), "$totalAmount", 0}}},
			"canceledCount": bson.M{"$sum": bson.M{"$cond": bson.A{isStatus(domain.StatusCanceled), 1, 0}}},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate analytics: %w", err)
	}
	defer cursor.Close(ctx)

	totals := make([]domain.BucketTotals, 0)
	if err := cursor.All(ctx, &totals); err != nil {
		return nil, fmt.Errorf("failed to decode analytics buckets: %w", err)
	}
	return totals, nil
}

// FindWithExpirableItems returns verified or paid orders that still hold
// stock of a line item past its expiration date.
func (r *OrderRepository) FindWithExpirableItems(ctx context.Context, now time.Time, limit int64) ([]*domain.PurchaseOrder, error) {
	filter := bson.M{
		"status": bson.M{"$in": bson.A{domain.StatusVerified, domain.StatusPaid}},
		"productOrders": bson.M{"$elemMatch": bson.M{
			"expired":        bson.M{"$ne": true},
			"remainingQte":   bson.M{"$gt": 0},
			"expirationDate": bson.M{"$lt": now},
		}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find orders with expirable items: %w", err)
	}
	defer cursor.Close(ctx)

	orders := make([]*domain.PurchaseOrder, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}
