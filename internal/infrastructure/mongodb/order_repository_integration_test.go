package mongodb

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
	"github.com/wms-platform/purchasing-service/pkg/kafka"
	outboxMongo "github.com/wms-platform/purchasing-service/pkg/outbox/mongodb"
	ptesting "github.com/wms-platform/purchasing-service/pkg/testing"
)

type OrderRepositoryIntegrationSuite struct {
	suite.Suite
	mongo    *ptesting.MongoDB
	db       *mongo.Database
	orders   *OrderRepository
	products *ProductRepository
	sequence *OrderNumberSequence
	ctx      context.Context
}

func TestOrderRepositoryIntegration(t *testing.T) {
	suite.Run(t, new(OrderRepositoryIntegrationSuite))
}

func (s *OrderRepositoryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.mongo = ptesting.StartMongoDB(s.T())
}

func (s *OrderRepositoryIntegrationSuite) SetupTest() {
	s.db = s.mongo.Database(s.T())
	s.orders = NewOrderRepository(s.db, cloudevents.NewEventFactory("/purchasing-service"), kafka.Topics.PurchaseOrders)
	s.products = NewProductRepository(s.db)
	s.sequence = NewOrderNumberSequence(s.db)
	s.Require().NoError(s.orders.EnsureIndexes(s.ctx))
}

func (s *OrderRepositoryIntegrationSuite) insertProduct(name string, stock float64) string {
	oid := primitive.NewObjectID()
	_, err := s.db.Collection(ProductsCollection).InsertOne(s.ctx, domain.Product{
		ID:           oid,
		Name:         name,
		Unit:         domain.UnitKilogram,
		CurrentStock: stock,
	})
	s.Require().NoError(err)
	return oid.Hex()
}

func (s *OrderRepositoryIntegrationSuite) outboxCount() int64 {
	n, err := s.db.Collection(outboxMongo.DefaultCollectionName).CountDocuments(s.ctx, bson.M{})
	s.Require().NoError(err)
	return n
}

func (s *OrderRepositoryIntegrationSuite) TestLifecycleUpdatesStockOnce() {
	flour := s.insertProduct("Flour", 100)
	sugar := s.insertProduct("Sugar", 20)

	order := newOrder(s.T(), flour, sugar, flour)
	s.Require().NoError(s.orders.Save(s.ctx, order))
	s.Equal(int64(1), s.outboxCount())

	loaded, err := s.orders.FindByID(s.ctx, order.ID.Hex())
	s.Require().NoError(err)
	s.Require().NoError(loaded.Assign("staff-1", createdAt, nil))
	s.Require().NoError(s.orders.Save(s.ctx, loaded))

	bill := &domain.Document{URL: "https://blob.example.com/bills/x.pdf", Key: "bills/x.pdf"}
	s.Require().NoError(loaded.SubmitForReview(bill, nil, nil, createdAt, nil))
	s.Require().NoError(s.orders.Save(s.ctx, loaded))

	s.Require().NoError(loaded.Verify(createdAt, nil))
	s.Require().NoError(s.orders.Save(s.ctx, loaded))
	s.Equal(int64(4), loaded.Version)

	products, err := s.products.FindByIDs(s.ctx, []string{flour, sugar})
	s.Require().NoError(err)
	s.Equal(108.0, products[flour].CurrentStock)
	s.Equal(24.0, products[sugar].CurrentStock)
	s.Equal(int64(4), s.outboxCount())

	s.Require().NoError(loaded.MarkPaid(createdAt, nil))
	s.Require().NoError(s.orders.Save(s.ctx, loaded))

	products, err = s.products.FindByIDs(s.ctx, []string{flour})
	s.Require().NoError(err)
	s.Equal(108.0, products[flour].CurrentStock)
}

func (s *OrderRepositoryIntegrationSuite) TestStaleCopyIsRejected() {
	order := newOrder(s.T(), s.insertProduct("Flour", 0))
	s.Require().NoError(s.orders.Save(s.ctx, order))

	first, err := s.orders.FindByID(s.ctx, order.ID.Hex())
	s.Require().NoError(err)
	second, err := s.orders.FindByID(s.ctx, order.ID.Hex())
	s.Require().NoError(err)

	s.Require().NoError(first.Assign("staff-1", createdAt, nil))
	s.Require().NoError(s.orders.Save(s.ctx, first))

	s.Require().NoError(second.Cancel(nil, createdAt, nil))
	s.ErrorIs(s.orders.Save(s.ctx, second), domain.ErrConcurrentModification)

	stored, err := s.orders.FindByID(s.ctx, order.ID.Hex())
	s.Require().NoError(err)
	s.Equal(domain.StatusAssigned, stored.Status)
	s.Equal(int64(2), s.outboxCount())
}

func (s *OrderRepositoryIntegrationSuite) TestMissingProductRollsBackVerification() {
	order := newOrder(s.T(), primitive.NewObjectID().Hex())
	s.Require().NoError(s.orders.Save(s.ctx, order))
	s.Require().NoError(order.Assign("staff-1", createdAt, nil))
	s.Require().NoError(s.orders.Save(s.ctx, order))
	s.Require().NoError(order.SubmitForReview(&domain.Document{URL: "https://blob.example.com/b.pdf", Key: "b.pdf"}, nil, nil, createdAt, nil))
	s.Require().NoError(s.orders.Save(s.ctx, order))

	s.Require().NoError(order.Verify(createdAt, nil))
	s.ErrorIs(s.orders.Save(s.ctx, order), domain.ErrProductNotFound)

	stored, err := s.orders.FindByID(s.ctx, order.ID.Hex())
	s.Require().NoError(err)
	s.Equal(domain.StatusPendingReview, stored.Status)
	s.Equal(int64(3), s.outboxCount())
}

func (s *OrderRepositoryIntegrationSuite) TestDuplicateOrderNumber() {
	productID := s.insertProduct("Flour", 0)
	s.Require().NoError(s.orders.Save(s.ctx, newOrder(s.T(), productID)))
	s.ErrorIs(s.orders.Save(s.ctx, newOrder(s.T(), productID)), domain.ErrDuplicateOrderNumber)
}

func (s *OrderRepositoryIntegrationSuite) TestSequenceIsUniqueUnderConcurrency() {
	const callers = 20
	var (
		mu      sync.Mutex
		numbers = make(map[string]bool)
		wg      sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.sequence.Next(s.ctx, createdAt)
			s.NoError(err)
			mu.Lock()
			numbers[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Len(numbers, callers)
	s.True(numbers["ORD-20250314-0001"])
	s.True(numbers["ORD-20250314-0020"])
}

func (s *OrderRepositoryIntegrationSuite) TestStatsAndVisibility() {
	productID := s.insertProduct("Flour", 0)
	creator := "admin-1"

	mine := newOrder(s.T(), productID)
	s.Require().NoError(mine.Assign("staff-1", createdAt, &creator))
	s.Require().NoError(s.orders.Save(s.ctx, mine))

	other, err := domain.NewPurchaseOrder(domain.NewOrderParams{
		OrderNumber: "ORD-20250314-0002",
		SupplierID:  primitive.NewObjectID().Hex(),
		Items:       []domain.NewLineItem{{ProductID: productID, Quantity: 1, UnitCost: 1}},
		CreatedBy:   &creator,
		At:          createdAt,
	})
	s.Require().NoError(err)
	s.Require().NoError(other.Cancel(nil, createdAt, &creator))
	s.Require().NoError(s.orders.Save(s.ctx, other))

	visible, err := s.orders.FindAll(s.ctx, domain.OrderFilter{VisibleTo: "staff-1"}, domain.DefaultSort(), domain.DefaultPagination())
	s.Require().NoError(err)
	s.Require().Len(visible, 1)
	s.Equal(mine.ID, visible[0].ID)

	counts, err := s.orders.CountByStatus(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Equal(int64(1), counts[domain.StatusAssigned])
	s.Equal(int64(1), counts[domain.StatusCanceled])

	rng := domain.NewAnalyticsRange(domain.PeriodWeek, createdAt)
	buckets, err := s.orders.AggregateBuckets(s.ctx, domain.OrderFilter{}, rng)
	s.Require().NoError(err)
	s.Require().Len(buckets, 1)
	s.Equal("2025-03-14", buckets[0].Key)
	s.Equal(int64(2), buckets[0].Count)
	s.Equal(int64(1), buckets[0].CanceledCount)
}
