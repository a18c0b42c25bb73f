package mongostore

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	productsCollection = "products"
	cartsCollection    = "carts"
	ordersCollection   = "orders"
	usersCollection    = "users"
	outboxCollection   = "outbox"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store on MongoDB. Multi-document commits need a replica set.
type Store struct {
	db       *mongo.Database
	products *mongo.Collection
	carts    *mongo.Collection
	orders   *mongo.Collection
	users    *mongo.Collection
	outbox   *mongo.Collection
	now      func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{
		db:       db,
		products: db.Collection(productsCollection),
		carts:    db.Collection(cartsCollection),
		orders:   db.Collection(ordersCollection),
		users:    db.Collection(usersCollection),
		outbox:   db.Collection(outboxCollection),
		now:      time.Now,
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// withTransaction runs fn in a single snapshot transaction. Write conflicts surface as
// domain.ErrStaleWrite so callers retry through their own budget.
func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return errors.Wrap(err, "failed to start session")
	}
	defer session.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	return mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		if err := session.StartTransaction(txOpts); err != nil {
			return errors.Wrap(err, "failed to start transaction")
		}
		if err := fn(sc); err != nil {
			_ = session.AbortTransaction(context.WithoutCancel(sc))
			return translate(err)
		}
		if err := session.CommitTransaction(sc); err != nil {
			return translate(err)
		}
		return nil
	})
}

// translate maps driver errors that mean "someone else got there first"
func translate(err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorLabel("UnknownTransactionCommitResult")) {
		return errors.Wrapf(domain.ErrStaleWrite, "transaction aborted: %v", err)
	}
	return err
}
