package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/robb-j/husky-cms/internal/xerrors"
)

// shared behaviour

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx, "missing", []byte("default"))
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if string(got) != "default" {
		t.Fatalf("Get missing = %q, want default", got)
	}

	if err := s.Set(ctx, "list:abc", []byte(`{"items":[]}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = s.Get(ctx, "list:abc", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"items":[]}` {
		t.Fatalf("Get = %q", got)
	}

	if err := s.Set(ctx, "list:abc", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "list:abc", nil)
	if string(got) != "v2" {
		t.Fatalf("after overwrite = %q, want v2", got)
	}
}

// Memory

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	in := []byte("abc")
	_ = m.Set(ctx, "k", in)
	in[0] = 'x'

	got, _ := m.Get(ctx, "k", nil)
	got[1] = 'y'

	again, _ := m.Get(ctx, "k", nil)
	if string(again) != "abc" {
		t.Fatalf("stored value mutated: %q", again)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Set(ctx, "k", []byte("v"))
			_, _ = m.Get(ctx, "k", nil)
		}()
	}
	wg.Wait()
	if v, _ := m.Get(ctx, "k", nil); string(v) != "v" {
		t.Fatalf("Get = %q, want v", v)
	}
}

// SQLite

func TestSQLite(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "husky.db"))
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED") {
			t.Skip("sqlite3 driver needs cgo")
		}
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSQLite_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "husky.db")
	s, err := NewSQLite(path)
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED") {
			t.Skip("sqlite3 driver needs cgo")
		}
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := s.Set(context.Background(), "k", []byte("kept")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, _ := s2.Get(context.Background(), "k", nil)
	if string(got) != "kept" {
		t.Fatalf("after reopen = %q", got)
	}
}

func TestNewSQLite_EmptyPath(t *testing.T) {
	_, err := NewSQLite("")
	if !xerrors.IsKind(err, xerrors.KindConfig) {
		t.Fatalf("err = %v, want configuration kind", err)
	}
}

// S3

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	lastKey string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = *in.Key
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = *in.Key
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3(t *testing.T) {
	s, err := NewS3(newFakeS3(), "bucket", "cache")
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	exerciseStore(t, s)
}

func TestS3_ObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		want   string
	}{
		{"", "list:abc", "list:abc.json"},
		{"cache", "list:abc", "cache/list:abc.json"},
		{"/cache/", "list:abc", "cache/list:abc.json"},
		{"cache", "a/b", "cache/a%2Fb.json"},
	}
	for _, tt := range tests {
		s, _ := NewS3(newFakeS3(), "b", tt.prefix)
		if got := s.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}

func TestS3_APIErrorNotFound(t *testing.T) {
	f := newFakeS3()
	f.getErr = &smithy.GenericAPIError{Code: "NotFound"}
	s, _ := NewS3(f, "b", "")
	got, err := s.Get(context.Background(), "k", []byte("def"))
	if err != nil || string(got) != "def" {
		t.Fatalf("Get = %q, %v; want default", got, err)
	}
}

func TestS3_OtherErrorPropagates(t *testing.T) {
	f := newFakeS3()
	f.getErr = errors.New("connection reset")
	s, _ := NewS3(f, "b", "")
	got, err := s.Get(context.Background(), "k", []byte("def"))
	if err == nil {
		t.Fatal("expected error")
	}
	if string(got) != "def" {
		t.Fatalf("Get on error = %q, want default", got)
	}
}

func TestNewS3_Validation(t *testing.T) {
	if _, err := NewS3(nil, "b", ""); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewS3(newFakeS3(), "", ""); !xerrors.IsKind(err, xerrors.KindConfig) {
		t.Fatalf("missing bucket err = %v", err)
	}
}

// Open

func TestOpen(t *testing.T) {
	s, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open default: %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Fatalf("default backend = %T, want *Memory", s)
	}

	s, err = Open(Options{Backend: "S3", S3Client: newFakeS3(), S3Bucket: "b"})
	if err != nil {
		t.Fatalf("Open s3: %v", err)
	}
	if _, ok := s.(*S3); !ok {
		t.Fatalf("s3 backend = %T", s)
	}

	_, err = Open(Options{Backend: "redis"})
	if !xerrors.IsKind(err, xerrors.KindConfig) {
		t.Fatalf("unknown backend err = %v", err)
	}
}
