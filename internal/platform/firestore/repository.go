package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises a collection query before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed helpers over a single Firestore collection.
type Collection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewCollection binds a typed Collection to the named Firestore collection.
func NewCollection[T any](provider *Provider, name string, decode Decoder[T]) *Collection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Collection[T]{
		provider: provider,
		name:     strings.TrimSpace(name),
		decode:   decode,
	}
}

// Set upserts the given value under the provided document ID.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Get fetches the document by ID and decodes it.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decodeSnapshot(snap)
}

// Query runs a collection query and returns the decoded documents.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		decoded, err := c.decodeSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// QueryTx runs a collection query inside the given transaction.
func (c *Collection[T]) QueryTx(ctx context.Context, tx *firestore.Transaction, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, WrapError(c.op("query"), errors.New("firestore: transaction is nil"))
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := tx.Documents(query)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		decoded, err := c.decodeSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// GetTx fetches and decodes the document inside the given transaction.
func (c *Collection[T]) GetTx(ctx context.Context, tx *firestore.Transaction, id string) (Document[T], error) {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	if tx == nil {
		return Document[T]{}, WrapError(c.op("get"), errors.New("firestore: transaction is nil"))
	}
	snap, err := tx.Get(doc)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decodeSnapshot(snap)
}

// Doc returns the document reference for use in transactions and direct writes.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Ref returns the underlying collection reference.
func (c *Collection[T]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) decodeSnapshot(snap *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := c.decode(snap)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       entity,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && strings.TrimSpace(c.name) != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, action)
}

// StructDecoder decodes documents using Firestore's native struct decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
