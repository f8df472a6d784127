// Package pgdocs stores documents as JSONB rows in PostgreSQL and turns
// LISTEN/NOTIFY into document subscriptions.
package pgdocs

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const notifyChannel = "docstore_changes"

type Storage struct {
	db  *pgxpool.Pool
	hub *docstore.Hub

	stop      context.CancelFunc
	listening chan struct{}
}

var _ docstore.Store = (*Storage)(nil)

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db, hub: docstore.NewHub(), listening: make(chan struct{})}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go s.listen(ctx)

	select {
	case <-s.listening:
	case <-time.After(10 * time.Second):
		s.Close()
		return nil, errors.New("pg change feed did not start")
	}
	return s, nil
}

func (s *Storage) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.hub.Close()
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Storage) listen(ctx context.Context) {
	first := true
	for ctx.Err() == nil {
		err := s.listenOnce(ctx, func() {
			if first {
				close(s.listening)
				first = false
				return
			}
			// anything written while disconnected was not announced
			s.hub.NotifyAll()
		})
		if ctx.Err() != nil {
			return
		}
		logrus.WithError(err).Warn("pgdocs: change feed lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *Storage) listenOnce(ctx context.Context, onListening func()) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire listen conn")
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return errors.Wrap(err, "listen")
	}
	onListening()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for notification")
		}
		collection, id, ok := strings.Cut(n.Payload, "/")
		if !ok {
			continue
		}
		s.hub.Notify(collection, id)
	}
}
