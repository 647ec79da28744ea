package sync

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dirstack/adsync/internal/directory"
	"github.com/dirstack/adsync/internal/query"
	"github.com/dirstack/adsync/internal/store"
)

// Worker is one reconciliation worker with its own directory
// connection. The paged cursor is connection-scoped, so workers never
// share a connection with the enumeration.
type Worker struct {
	Reconciler *Reconciler
	// Mapper, when set, applies the configured attribute mappings to
	// each identity before it is reconciled and saved.
	Mapper *Mapper
	Closer io.Closer
}

// WorkerFactory builds a Worker. Each invocation must return a worker
// backed by its own gateway connection.
type WorkerFactory func(ctx context.Context) (*Worker, error)

// Report summarizes one synchronization pass.
type Report struct {
	// Users is the number of directory users enumerated.
	Users int
	// Synced counts users reconciled without error.
	Synced int
	// Skipped counts users with no linked local identity.
	Skipped int
	// Failed counts users whose reconciliation reported errors.
	Failed int
}

// Runner drives one inbound synchronization pass over every directory
// user, fanning identities out across a bounded worker group. All
// workers share one pass-scoped nested-group memo.
type Runner struct {
	queries    *query.Service
	identities store.IdentityStore
	newWorker  WorkerFactory
	workers    int
	log        zerolog.Logger
}

func NewRunner(queries *query.Service, identities store.IdentityStore, newWorker WorkerFactory, workers int, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		queries:    queries,
		identities: identities,
		newWorker:  newWorker,
		workers:    workers,
		log:        log,
	}
}

// Run enumerates all users and reconciles each linked identity.
// Per-user failures are counted and logged but do not stop the pass;
// the pass itself fails only when enumeration fails or the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	pass := NewPass()

	users, err := r.queries.GetUsers(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Users: len(users)}
	results := make(chan error, len(users))
	jobs := make(chan directory.Record)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			worker, err := r.newWorker(gctx)
			if err != nil {
				return err
			}
			defer worker.Closer.Close()

			for rec := range jobs {
				results <- r.reconcileOne(gctx, worker, pass, rec)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, rec := range users {
			select {
			case jobs <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err = g.Wait()
	close(results)
	for res := range results {
		switch {
		case res == nil:
			report.Synced++
		case errors.Is(res, errUnlinked):
			report.Skipped++
		default:
			report.Failed++
		}
	}

	r.log.Info().
		Int("users", report.Users).
		Int("synced", report.Synced).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("synchronization pass finished")
	return report, err
}

var errUnlinked = errors.New("no linked local identity")

func (r *Runner) reconcileOne(ctx context.Context, worker *Worker, pass *Pass, rec directory.Record) error {
	guid := rec.GUID()
	if guid == "" {
		r.log.Warn().Str("dn", rec.DN()).Msg("user record carries no GUID")
		return errUnlinked
	}

	identity, err := r.identities.IdentityByGUID(ctx, guid)
	if err != nil {
		r.log.Error().Err(err).Str("guid", guid).Msg("identity lookup failed")
		return err
	}
	if identity == nil {
		return errUnlinked
	}

	if worker.Mapper != nil {
		if err := worker.Mapper.Apply(ctx, identity, rec); err != nil {
			r.log.Error().
				Err(err).
				Str("username", identity.Username).
				Msg("attribute mapping failed")
			return err
		}
	}

	if err := worker.Reconciler.ReconcileInbound(ctx, pass, identity, rec); err != nil {
		r.log.Error().
			Err(err).
			Str("username", identity.Username).
			Msg("reconciliation failed")
		return err
	}
	return nil
}
