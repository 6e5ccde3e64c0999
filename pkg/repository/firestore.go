package repository

import (
	"context"
	"strconv"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const counterField = "next"

// FirestoreConfig holds configuration for the Firestore repository.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// FirestoreRepository stores one document per customer, keyed by its decimal ID.
// IDs come from a counter document that is advanced inside the same
// transaction that checks name uniqueness and creates the customer.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
	clock      clockwork.Clock
	logger     zerolog.Logger
}

// NewFirestoreRepository creates a repository on an existing client. The
// client's lifecycle is managed by the caller.
func NewFirestoreRepository(
	cfg *FirestoreConfig,
	client *firestore.Client,
	clock clockwork.Clock,
	logger zerolog.Logger,
) (*FirestoreRepository, error) {
	if client == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "firestore client cannot be nil")
	}
	if cfg.Collection == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "firestore collection is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.Collection).Msg("FirestoreRepository initialized.")

	return &FirestoreRepository{
		client:     client,
		collection: cfg.Collection,
		clock:      clock,
		logger:     logger.With().Str("component", "FirestoreRepository").Logger(),
	}, nil
}

// GetCustomers returns every customer ordered by ID.
func (r *FirestoreRepository) GetCustomers(ctx context.Context) ([]types.Customer, error) {
	docs, err := r.customers().OrderBy("id", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list customer documents.")
		return nil, errors.Wrap(err, errors.CodeDatabase, "firestore list customers")
	}
	out := make([]types.Customer, 0, len(docs))
	for _, doc := range docs {
		var c types.Customer
		if err := doc.DataTo(&c); err != nil {
			r.logger.Error().Err(err).Str("doc", doc.Ref.ID).Msg("Failed to map Firestore document data.")
			return nil, errors.Wrapf(err, errors.CodeDatabase, "firestore DataTo for %s", doc.Ref.ID)
		}
		out = append(out, c)
	}
	return out, nil
}

// AddCustomer assigns the next ID and creates the document, failing with
// CodeAlreadyExists if the name is taken.
func (r *FirestoreRepository) AddCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	now := r.clock.Now().UTC()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Updated = now

	counterRef := r.client.Collection(r.collection + "_meta").Doc("counter")
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		taken, err := r.nameTaken(tx, c, 0)
		if err != nil {
			return err
		}
		if taken {
			return duplicateNameError(nil, c)
		}

		var next int64
		snap, err := tx.Get(counterRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return errors.Wrap(err, errors.CodeDatabase, "firestore read id counter")
		default:
			v, err := snap.DataAt(counterField)
			if err != nil {
				return errors.Wrap(err, errors.CodeDatabase, "firestore decode id counter")
			}
			next, _ = v.(int64)
		}

		c.ID = next + 1
		if err := tx.Set(counterRef, map[string]interface{}{counterField: c.ID}); err != nil {
			return errors.Wrap(err, errors.CodeDatabase, "firestore advance id counter")
		}
		return tx.Create(r.doc(c.ID), c)
	})
	if err != nil {
		return types.Customer{}, r.txError(err, "firestore add customer")
	}
	r.logger.Debug().Int64("customer_id", c.ID).Msg("Customer document created.")
	return c, nil
}

// UpdateCustomer rewrites an existing document, keeping its Created time.
func (r *FirestoreRepository) UpdateCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(r.doc(c.ID))
		if status.Code(err) == codes.NotFound {
			return notFoundError(c.ID)
		}
		if err != nil {
			return errors.Wrapf(err, errors.CodeDatabase, "firestore get customer %d", c.ID)
		}
		var existing types.Customer
		if err := snap.DataTo(&existing); err != nil {
			return errors.Wrapf(err, errors.CodeDatabase, "firestore DataTo for %d", c.ID)
		}
		taken, err := r.nameTaken(tx, c, c.ID)
		if err != nil {
			return err
		}
		if taken {
			return duplicateNameError(nil, c)
		}
		c.Created = existing.Created
		c.Updated = r.clock.Now().UTC()
		return tx.Set(r.doc(c.ID), c)
	})
	if err != nil {
		return types.Customer{}, r.txError(err, "firestore update customer")
	}
	return c, nil
}

// DeleteCustomer removes the customer's document.
func (r *FirestoreRepository) DeleteCustomer(ctx context.Context, c types.Customer) error {
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(r.doc(c.ID)); err != nil {
			if status.Code(err) == codes.NotFound {
				return notFoundError(c.ID)
			}
			return errors.Wrapf(err, errors.CodeDatabase, "firestore get customer %d", c.ID)
		}
		return tx.Delete(r.doc(c.ID))
	})
	if err != nil {
		return r.txError(err, "firestore delete customer")
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (r *FirestoreRepository) Close() error {
	r.logger.Info().Msg("FirestoreRepository does not close the injected Firestore client.")
	return nil
}

func (r *FirestoreRepository) customers() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

func (r *FirestoreRepository) doc(id int64) *firestore.DocumentRef {
	return r.customers().Doc(strconv.FormatInt(id, 10))
}

func (r *FirestoreRepository) nameTaken(tx *firestore.Transaction, c types.Customer, exceptID int64) (bool, error) {
	q := r.customers().Where("firstName", "==", c.FirstName).Where("lastName", "==", c.LastName).Limit(2)
	docs, err := tx.Documents(q).GetAll()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "firestore name lookup")
	}
	for _, doc := range docs {
		if doc.Ref.ID != strconv.FormatInt(exceptID, 10) {
			return true, nil
		}
	}
	return false, nil
}

// txError keeps coded errors raised inside a transaction and wraps the rest.
func (r *FirestoreRepository) txError(err error, msg string) error {
	switch errors.GetCode(err) {
	case errors.CodeAlreadyExists, errors.CodeNotFound, errors.CodeDatabase:
		return err
	}
	if status.Code(err) == codes.AlreadyExists {
		return errors.Wrap(err, errors.CodeAlreadyExists, msg)
	}
	r.logger.Error().Err(err).Msg(msg)
	return errors.Wrap(err, errors.CodeDatabase, msg)
}

var _ CustomerRepository = (*FirestoreRepository)(nil)
