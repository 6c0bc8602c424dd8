// Package localstore implements the Local Embedded Key-Value Backend
// (C1): one named JetStream KV bucket per entity table, backed by an
// in-process NATS server so the whole cache lives inside this process
// with no external dependency — fast startup, offline operation.
//
// Grounded on the teacher pack's nats-server/v2 + nats.go dependency
// (ODSapper-CLIAIRMONITOR/internal/nats uses the client side of this
// same library); the embedded-server + JetStream KV wiring itself is
// new, enriching the pack per SPEC_FULL.md §B rather than copying
// ODSapper code that doesn't demonstrate an embedded server.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/logging"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/storage"
)

var _ storage.Backend = (*Store)(nil)

const (
	bucketEpisodes   = "episodes"
	bucketPatterns   = "patterns"
	bucketHeuristics = "heuristics"
	bucketEmbeddings = "embeddings"
	bucketMetadata   = "metadata"
)

// Store is the embedded cache backend. One KV bucket per entity table,
// values are compact JSON (spec.md §6 calls for "a compact binary
// serialization"; JSON is the compact-enough, debuggable choice
// consistent with the durable backend's JSON-in-TEXT columns, see
// SPEC_FULL.md §A.1's "Serialization format" note).
type Store struct {
	srv    *server.Server
	nc     *nats.Conn
	js     jetstream.JetStream
	logger logging.Logger

	buckets map[string]jetstream.KeyValue
}

// Config controls the embedded server and KV buckets.
type Config struct {
	StoreDir string // directory for the embedded server's JetStream file store
	Logger   logging.Logger
}

// New starts an in-process (DontListen) NATS server with JetStream
// enabled and creates the named KV buckets.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	logger := cfg.Logger.WithComponent("epimem/storage")

	opts := &server.Options{
		DontListen: true,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, epierrors.New("localstore.New", epierrors.KindStorage, "", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, epierrors.New("localstore.New", epierrors.KindStorage, "", fmt.Errorf("embedded nats server did not become ready"))
	}

	nc, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, epierrors.New("localstore.New", epierrors.KindStorage, "", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		srv.Shutdown()
		return nil, epierrors.New("localstore.New", epierrors.KindStorage, "", err)
	}

	s := &Store{srv: srv, nc: nc, js: js, logger: logger, buckets: make(map[string]jetstream.KeyValue)}

	for _, name := range []string{bucketEpisodes, bucketPatterns, bucketHeuristics, bucketEmbeddings, bucketMetadata} {
		kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name})
		if err != nil {
			s.Close()
			return nil, epierrors.New("localstore.New", epierrors.KindStorage, name, err)
		}
		s.buckets[name] = kv
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	if s.srv != nil {
		s.srv.Shutdown()
		s.srv.WaitForShutdown()
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if !s.nc.IsConnected() {
		return epierrors.New("localstore.HealthCheck", epierrors.KindStorage, "", fmt.Errorf("not connected"))
	}
	return nil
}

func (s *Store) put(ctx context.Context, bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return epierrors.New("localstore.put", epierrors.KindSerialization, key, err)
	}
	if _, err := s.buckets[bucket].Put(ctx, key, data); err != nil {
		return epierrors.New("localstore.put", epierrors.KindStorage, key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, bucket, key string, v interface{}) error {
	entry, err := s.buckets[bucket].Get(ctx, key)
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return epierrors.New("localstore.get", epierrors.KindNotFound, key, nil)
		}
		return epierrors.New("localstore.get", epierrors.KindStorage, key, err)
	}
	if err := json.Unmarshal(entry.Value(), v); err != nil {
		return epierrors.New("localstore.get", epierrors.KindSerialization, key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, bucket, key string) error {
	if _, err := s.buckets[bucket].Get(ctx, key); err != nil {
		if err == jetstream.ErrKeyNotFound {
			return epierrors.New("localstore.delete", epierrors.KindNotFound, key, nil)
		}
	}
	if err := s.buckets[bucket].Delete(ctx, key); err != nil {
		return epierrors.New("localstore.delete", epierrors.KindStorage, key, err)
	}
	return nil
}

func (s *Store) listKeys(ctx context.Context, bucket string) ([]string, error) {
	lister, err := s.buckets[bucket].ListKeys(ctx)
	if err != nil {
		return nil, epierrors.New("localstore.listKeys", epierrors.KindStorage, "", err)
	}
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

func embeddingKey(itemID string, itemType model.ItemType) string {
	return string(itemType) + "." + itemID
}
