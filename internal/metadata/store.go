package metadata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/podushkina/docextract/internal/task"
)

const (
	metaPrefix = "docextract:meta:"
	indexKey   = "docextract:meta:index"

	DefaultTTL = time.Hour
)

// Metadata is the expiring submission-time record kept alongside a
// task. Status is a denormalized cache of the live task state, kept
// for fast listing; the task record stays authoritative.
type Metadata struct {
	Filename    string
	FileSize    int64
	MIMEType    string
	Pages       int
	SubmittedAt time.Time
	Status      task.State
}

// Store keeps metadata as flat string-valued Redis hashes plus a
// recency index. Records and index membership share one TTL so they
// age out together; a missing record means "aged out", never an
// error.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Store{client: client, ttl: ttl}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put writes the record and registers the id in the recency index, in
// one pipeline. Fields are stringified; readers parse timestamp back
// to an integer.
func (s *Store) Put(ctx context.Context, id string, md Metadata) error {
	fields := map[string]string{
		"filename":  md.Filename,
		"file_size": strconv.FormatInt(md.FileSize, 10),
		"mime_type": md.MIMEType,
		"pages":     strconv.Itoa(md.Pages),
		"timestamp": strconv.FormatInt(md.SubmittedAt.Unix(), 10),
		"status":    string(md.Status),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, metaPrefix+id, fields)
	pipe.Expire(ctx, metaPrefix+id, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(md.SubmittedAt.UnixNano()),
		Member: id,
	})
	pipe.Expire(ctx, indexKey, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

// Get returns the record, or nil if the id is unknown or has aged
// out. Callers must treat both cases identically.
func (s *Store) Get(ctx context.Context, id string) (*Metadata, error) {
	fields, err := s.client.HGetAll(ctx, metaPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	md := &Metadata{
		Filename: fields["filename"],
		MIMEType: fields["mime_type"],
		Status:   task.State(fields["status"]),
	}
	if v, err := strconv.ParseInt(fields["file_size"], 10, 64); err == nil {
		md.FileSize = v
	}
	if v, err := strconv.Atoi(fields["pages"]); err == nil {
		md.Pages = v
	}
	if v, err := strconv.ParseInt(fields["timestamp"], 10, 64); err == nil {
		md.SubmittedAt = time.Unix(v, 0)
	}

	return md, nil
}

// RefreshStatus updates the denormalized status field of an existing
// record. A record that has aged out stays gone: if it expires
// between the existence check and the write, the racily recreated
// hash gets an expiry of its own so no record can outlive the TTL.
func (s *Store) RefreshStatus(ctx context.Context, id string, status task.State) error {
	exists, err := s.client.Exists(ctx, metaPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("refresh status: %w", err)
	}
	if exists == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, metaPrefix+id, "status", string(status))
	pipe.ExpireNX(ctx, metaPrefix+id, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("refresh status: %w", err)
	}
	return nil
}

// ListRecent returns tracked ids most-recent-first. Index entries
// older than the TTL are pruned on read so the list and the records
// never diverge.
func (s *Store) ListRecent(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-s.ttl).UnixNano()

	if err := s.client.ZRemRangeByScore(ctx, indexKey, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return nil, fmt.Errorf("prune index: %w", err)
	}

	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	return ids, nil
}
