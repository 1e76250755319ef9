package collector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oicur0t/intelmon/internal/config"
	"github.com/oicur0t/intelmon/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrDuplicateReport is returned when an identical report was already stored
var ErrDuplicateReport = errors.New("duplicate report")

// Store persists what agents send
type Store interface {
	InsertReport(ctx context.Context, report models.IntelReport) error
	UpsertHeartbeat(ctx context.Context, hb models.Heartbeat) error
}

var invalidCollectionChars = regexp.MustCompile(`[^a-z0-9_]`)

// CollectionName maps a channel name to its report collection
func CollectionName(prefix, channel string) string {
	name := invalidCollectionChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(channel)), "_")
	return prefix + name
}

// MongoStore keeps one collection per intel channel plus one for client
// heartbeats
type MongoStore struct {
	client           *mongo.Client
	database         *mongo.Database
	collectionPrefix string
	heartbeats       *mongo.Collection
	ttlDays          int
	logger           *zap.Logger

	indexed sync.Map // collection name -> struct{}
}

// NewMongoStore connects to MongoDB and verifies the connection
func NewMongoStore(cfg config.MongoDBConfig, logger *zap.Logger) (*MongoStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Build connection options
	uri := cfg.URI
	clientOpts := options.Client().
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetTimeout(timeout)

	// If certificate key file is provided, use X.509 authentication
	if cfg.CertificateKeyFile != "" {
		if strings.Contains(uri, "?") {
			uri += "&tlsCertificateKeyFile=" + cfg.CertificateKeyFile
		} else {
			uri += "?tlsCertificateKeyFile=" + cfg.CertificateKeyFile
		}
		clientOpts.SetAuth(options.Credential{AuthMechanism: "MONGODB-X509"})
	}
	clientOpts.ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", cfg.Database),
		zap.Int("max_pool_size", cfg.MaxPoolSize))

	db := client.Database(cfg.Database)
	return &MongoStore{
		client:           client,
		database:         db,
		collectionPrefix: cfg.CollectionPrefix,
		heartbeats:       db.Collection(cfg.HeartbeatCollection),
		ttlDays:          cfg.TTLDays,
		logger:           logger,
	}, nil
}

// InsertReport stores one report in its channel's collection. Reports with the
// same timestamp, pilot and text as a stored one yield ErrDuplicateReport.
func (s *MongoStore) InsertReport(ctx context.Context, report models.IntelReport) error {
	collName := CollectionName(s.collectionPrefix, report.Channel)
	collection := s.database.Collection(collName)

	if _, done := s.indexed.Load(collName); !done {
		if err := s.ensureIndexes(ctx, collection); err != nil {
			// The insert still goes ahead; the next report retries the indexes.
			s.logger.Error("Failed to ensure indexes", zap.Error(err), zap.String("collection", collName))
		} else {
			s.indexed.Store(collName, struct{}{})
		}
	}

	if _, err := collection.InsertOne(ctx, report); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Debug("Duplicate report ignored",
				zap.String("collection", collName),
				zap.String("pilot", report.Pilot))
			return ErrDuplicateReport
		}
		return fmt.Errorf("failed to insert report: %w", err)
	}

	s.logger.Debug("Report stored",
		zap.String("collection", collName),
		zap.String("system", report.System))
	return nil
}

// UpsertHeartbeat replaces the client's last heartbeat
func (s *MongoStore) UpsertHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	_, err := s.heartbeats.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: hb.ClientID}},
		hb,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

// ensureIndexes creates the report indexes on a collection
func (s *MongoStore) ensureIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "received_at", Value: -1}},
			Options: options.Index().SetName("received_desc"),
		},
		{
			Keys: bson.D{
				{Key: "system", Value: 1},
				{Key: "received_at", Value: -1},
			},
			Options: options.Index().SetName("system_received"),
		},
		{
			Keys: bson.D{
				{Key: "timestamp_raw", Value: 1},
				{Key: "pilot", Value: 1},
				{Key: "intel", Value: 1},
			},
			Options: options.Index().SetName("report_identity").SetUnique(true),
		},
	}

	// Add TTL index if configured
	if s.ttlDays > 0 {
		ttlSeconds := int32(s.ttlDays * 24 * 60 * 60)
		indexModels = append(indexModels, mongo.IndexModel{
			Keys: bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_index").
				SetExpireAfterSeconds(ttlSeconds),
		})
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
