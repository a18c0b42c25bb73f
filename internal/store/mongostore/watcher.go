package mongostore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const changeStreamHistoryLost = 286

type changeDoc struct {
	ID            bson.Raw `bson:"_id"`
	OperationType string   `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.Raw  `bson:"fullDocument,omitempty"`
	FullDocumentBeforeChange bson.Raw  `bson:"fullDocumentBeforeChange,omitempty"`
	WallTime                 time.Time `bson:"wallTime,omitempty"`
}

// Watcher tails the products, carts and orders change streams and hands every change
// to publish in commit order. It resumes from the last seen token after an error.
type Watcher struct {
	db      *mongo.Database
	publish store.Observer
	token   bson.Raw
	backoff *backoff.ExponentialBackOff
}

func NewWatcher(db *mongo.Database, publish store.Observer) *Watcher {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return &Watcher{db: db, publish: publish, backoff: b}
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	err := backoff.RetryNotify(func() error {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(w.backoff, ctx), func(err error, next time.Duration) {
		log.WithError(err).WithField("retry_in", next).Warn("change stream interrupted")
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (w *Watcher) watch(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"ns.coll":       bson.M{"$in": bson.A{productsCollection, cartsCollection, ordersCollection}},
			"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}},
		}}},
	}
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	if w.token != nil {
		opts.SetResumeAfter(w.token)
	}

	stream, err := w.db.Watch(ctx, pipeline, opts)
	if err != nil {
		var se mongo.ServerError
		if errors.As(err, &se) && se.HasErrorCode(changeStreamHistoryLost) {
			log.Warn("resume token expired, watching from now")
			w.token = nil
		}
		return errors.Wrap(err, "failed to open change stream")
	}
	defer stream.Close(context.WithoutCancel(ctx))
	log.WithField("resumed", w.token != nil).Info("watching change streams")

	for stream.Next(ctx) {
		var change changeDoc
		if err := stream.Decode(&change); err != nil {
			return errors.Wrap(err, "failed to decode change")
		}
		ev, ok, err := toChangeEvent(change)
		if err != nil {
			log.WithError(err).WithField("collection", change.NS.Coll).Warn("skipping undecodable change")
		} else if ok {
			w.publish(ev)
		}
		w.token = append(bson.Raw(nil), stream.ResumeToken()...)
		w.backoff.Reset()
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return errors.New("change stream closed")
}

func toChangeEvent(c changeDoc) (domain.ChangeEvent, bool, error) {
	ev := domain.ChangeEvent{
		Collection: domain.Collection(c.NS.Coll),
		EntityID:   c.DocumentKey.ID,
		At:         c.WallTime,
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	raw := c.FullDocument
	switch c.OperationType {
	case "insert":
		ev.Kind = domain.ChangeAdded
	case "update", "replace":
		ev.Kind = domain.ChangeModified
	case "delete":
		ev.Kind = domain.ChangeRemoved
		raw = c.FullDocumentBeforeChange
	default:
		return domain.ChangeEvent{}, false, nil
	}
	if len(raw) == 0 {
		return ev, true, nil
	}

	switch ev.Collection {
	case domain.CollectionProducts:
		var doc productDoc
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return domain.ChangeEvent{}, false, err
		}
		ev.Entity = doc.toDomain()
	case domain.CollectionCarts:
		var doc cartLineDoc
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return domain.ChangeEvent{}, false, err
		}
		ev.UserID = doc.UserID
		ev.Entity = doc.toDomain()
	case domain.CollectionOrders:
		var doc orderDoc
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return domain.ChangeEvent{}, false, err
		}
		ev.UserID = doc.UserID
		ev.Entity = doc.toDomain()
	default:
		return domain.ChangeEvent{}, false, nil
	}
	return ev, true, nil
}
