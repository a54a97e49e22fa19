// Package testsupport holds in-process fakes for collaborator interfaces.
package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"Fanvault/storage"
)

// SignCall records one PresignGet invocation.
type SignCall struct {
	Key    string
	Expiry time.Duration
	Params url.Values
}

// MemStore is an in-memory storage.BlobStore and storage.URLSigner.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// PutErr fails uploads whose key contains the map key.
	PutErr map[string]error
	// SignErrs is consumed in order by PresignGet before it succeeds.
	SignErrs []error

	Signs []SignCall
	Puts  []string
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		PutErr:  make(map[string]error),
	}
}

// Seed stores data under key without recording a Put.
func (m *MemStore) Seed(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

// Has reports whether key exists.
func (m *MemStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *MemStore) putErr(key string) error {
	for frag, err := range m.PutErr {
		if strings.Contains(key, frag) {
			return err
		}
	}
	return nil
}

func (m *MemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErr(key); err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	m.Puts = append(m.Puts, key)
	return nil
}

func (m *MemStore) PutFile(ctx context.Context, key, filePath, contentType string) (int64, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}
	if err := m.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (m *MemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemStore) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: m.types[key]}, nil
}

func (m *MemStore) List(ctx context.Context, prefix string, recursive bool) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: m.types[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// PresignGet returns a fake signed URL and records the call.
func (m *MemStore) PresignGet(ctx context.Context, key string, expiry time.Duration, params url.Values) (*url.URL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Signs = append(m.Signs, SignCall{Key: key, Expiry: expiry, Params: params})
	if len(m.SignErrs) > 0 {
		err := m.SignErrs[0]
		m.SignErrs = m.SignErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if _, ok := m.objects[key]; !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("X-Amz-Expires", fmt.Sprintf("%d", int(expiry.Seconds())))
	q.Set("X-Amz-Signature", fmt.Sprintf("sig%d", len(m.Signs)))
	return &url.URL{Scheme: "https", Host: "media.test", Path: "/bucket/" + key, RawQuery: q.Encode()}, nil
}

// SignCount reports how many PresignGet calls were made.
func (m *MemStore) SignCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Signs)
}

// LastSign returns the most recent PresignGet call.
func (m *MemStore) LastSign() SignCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Signs) == 0 {
		return SignCall{}
	}
	return m.Signs[len(m.Signs)-1]
}
