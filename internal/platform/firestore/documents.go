package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Decode hydrates a snapshot into T, naming the document on failure.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var target T
	if snap == nil {
		return target, errors.New("firestore: snapshot is nil")
	}
	if err := snap.DataTo(&target); err != nil {
		return target, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return target, nil
}

// Get reads and decodes one document.
func Get[T any](ctx context.Context, ref *firestore.DocumentRef, op string) (T, error) {
	var zero T
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(op, err)
	}
	return Decode[T](snap)
}

// TxGet reads and decodes one document inside a transaction.
func TxGet[T any](tx *firestore.Transaction, ref *firestore.DocumentRef, op string) (T, error) {
	var zero T
	snap, err := tx.Get(ref)
	if err != nil {
		return zero, WrapError(op, err)
	}
	return Decode[T](snap)
}

// Snapshot pairs a decoded document with its id.
type Snapshot[T any] struct {
	ID   string
	Data T
}

// Collect drains an iterator, decoding every document.
func Collect[T any](iter *firestore.DocumentIterator, op string) ([]Snapshot[T], error) {
	defer iter.Stop()
	var out []Snapshot[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		data, err := Decode[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot[T]{ID: snap.Ref.ID, Data: data})
	}
}
