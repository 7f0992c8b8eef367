// Package testing holds helpers for integration tests that need real
// infrastructure.
package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoImage = "mongo:6"

// MongoDB is a single-node replica set, so multi-document transactions work.
type MongoDB struct {
	Container *mongodb.MongoDBContainer
	URI       string
	Client    *mongo.Client
}

// StartMongoDB starts a container and connects to it. The container and
// client are released when t finishes. Tests are skipped under -short.
func StartMongoDB(t *testing.T) *MongoDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, mongoImage, mongodb.WithReplicaSet("rs"))
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start mongodb container: %v", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	client, err := Connect(ctx, uri)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return &MongoDB{Container: container, URI: uri, Client: client}
}

// Connect opens a direct connection and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetDirect(true))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return client, nil
}

// Database returns a fresh database named after the test.
func (m *MongoDB) Database(t *testing.T) *mongo.Database {
	t.Helper()
	db := m.Client.Database(fmt.Sprintf("purchasing_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })
	return db
}
