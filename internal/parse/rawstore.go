package parse

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// gzipThreshold is the payload size above which stored content is
// compressed.
const gzipThreshold = 10 * 1024

// RawPayload is one captured page or API response kept for
// reprocessing.
type RawPayload struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"-"`
	CapturedAt  time.Time `json:"captured_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RawStore persists raw payloads with a retention window.
type RawStore interface {
	Put(ctx context.Context, p *RawPayload) (string, error)
	Get(ctx context.Context, id string) (*RawPayload, error)
	DeleteExpired(ctx context.Context) (int, error)
	Close() error
}

func compressBody(body []byte) ([]byte, bool, error) {
	if len(body) <= gzipThreshold {
		return body, false, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, false, eris.Wrap(err, "rawstore: compress")
	}
	if err := w.Close(); err != nil {
		return nil, false, eris.Wrap(err, "rawstore: compress close")
	}
	return buf.Bytes(), true, nil
}

func decompressBody(body []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return body, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "rawstore: decompress")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "rawstore: decompress read")
	}
	return out, nil
}

type memoryEntry struct {
	payload    RawPayload
	body       []byte
	compressed bool
}

// MemoryRawStore keeps payloads in process memory. Suited to tests and
// single-shot runs.
type MemoryRawStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryRawStore() *MemoryRawStore {
	return &MemoryRawStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryRawStore) Put(ctx context.Context, p *RawPayload) (string, error) {
	body, compressed, err := compressBody(p.Body)
	if err != nil {
		return "", err
	}
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	stored.ID = id
	stored.Body = nil
	s.entries[id] = memoryEntry{payload: stored, body: body, compressed: compressed}
	return id, nil
}

func (s *MemoryRawStore) Get(ctx context.Context, id string) (*RawPayload, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, eris.Errorf("rawstore: payload not found: %s", id)
	}

	body, err := decompressBody(e.body, e.compressed)
	if err != nil {
		return nil, err
	}
	out := e.payload
	out.Body = body
	return &out, nil
}

func (s *MemoryRawStore) DeleteExpired(ctx context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if !e.payload.ExpiresAt.IsZero() && e.payload.ExpiresAt.Before(now) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryRawStore) Close() error { return nil }
