package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/aman54kumar/ijdr/config"
)

// FirestoreStore is the remote document store mirroring journal and
// article metadata for the read-side portal.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a Firestore client for the configured project.
// A credentials file path is optional; without one the ambient application
// default credentials are used.
func NewFirestoreStore(ctx context.Context, cfg *config.Config) (*FirestoreStore, error) {
	if cfg.FirestoreProject == "" {
		return nil, fmt.Errorf("firestore project must be configured")
	}

	var opts []option.ClientOption
	if cfg.FirestoreCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirestoreCredentials))
	}

	client, err := firestore.NewClient(ctx, cfg.FirestoreProject, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Set upserts a document in the given slash-separated collection path.
func (f *FirestoreStore) Set(ctx context.Context, collection, docID string, fields map[string]interface{}) error {
	_, err := f.client.Collection(collection).Doc(docID).Set(ctx, fields)
	return err
}

// Delete removes a document. Deleting a nonexistent document is not an error.
func (f *FirestoreStore) Delete(ctx context.Context, collection, docID string) error {
	_, err := f.client.Collection(collection).Doc(docID).Delete(ctx)
	return err
}

// Close releases the underlying client connection.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}
