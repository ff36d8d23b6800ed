package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
)

// BlobStore keeps resume and session state blobs as documents keyed by
// their persistence key.
type BlobStore struct {
	collection *mongo.Collection
}

var _ ports.BlobStore = (*BlobStore)(nil)

type blobDoc struct {
	ID        string `bson:"_id"`
	Data      []byte `bson:"data"`
	Size      int    `bson:"size"`
	UpdatedAt int64  `bson:"updatedAt"`
}

func NewBlobStore(client *mongo.Client, dbName, collectionName string) *BlobStore {
	return &BlobStore{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *BlobStore) Load(ctx context.Context, key string) ([]byte, error) {
	var doc blobDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return doc.Data, nil
}

// Save replaces the blob stored under key. A failed write leaves the previous
// document untouched.
func (s *BlobStore) Save(ctx context.Context, key string, data []byte) error {
	update := bson.M{
		"$set": bson.M{
			"data":      data,
			"size":      len(data),
			"updatedAt": time.Now().Unix(),
		},
	}
	_, err := s.collection.UpdateOne(
		ctx,
		bson.M{"_id": key},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}
