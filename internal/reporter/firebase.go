package reporter

import (
	"context"
	"fmt"

	"rdtpbench/internal/bench"
	"rdtpbench/internal/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// runsPath is the database node benchmark runs are stored under
const runsPath = "runs"

// recordStore writes a value at a child path of the runs node
type recordStore interface {
	Set(ctx context.Context, child string, v any) error
}

// dbStore is a recordStore backed by a Realtime Database reference
type dbStore struct {
	ref *db.Ref
}

func (s dbStore) Set(ctx context.Context, child string, v any) error {
	return s.ref.Child(child).Set(ctx, v)
}

// FirebaseReporter stores every run in a Firebase Realtime Database under
// runs/<run id>
type FirebaseReporter struct {
	store recordStore
	log   logrus.FieldLogger
}

// NewFirebaseReporter connects to the database configured in cfg
func NewFirebaseReporter(ctx context.Context, cfg config.FirebaseConfig, log logrus.FieldLogger) (*FirebaseReporter, error) {
	opt := option.WithCredentialsFile(cfg.CredentialsPath)

	firebaseConfig := &firebase.Config{
		DatabaseURL: cfg.DatabaseURL,
	}

	app, err := firebase.NewApp(ctx, firebaseConfig, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return newFirebaseReporter(dbStore{ref: client.NewRef(runsPath)}, log), nil
}

func newFirebaseReporter(store recordStore, log logrus.FieldLogger) *FirebaseReporter {
	return &FirebaseReporter{
		store: store,
		log:   log.WithField("role", "firebase-reporter"),
	}
}

// Report stores run
func (f *FirebaseReporter) Report(ctx context.Context, run *bench.Run) error {
	if err := f.store.Set(ctx, run.ID, run); err != nil {
		return fmt.Errorf("error storing run %s: %w", run.ID, err)
	}
	f.log.WithField("run", run.ID).Info("Run stored in Firebase")
	return nil
}
