package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jmoiron/sqlx"
	"github.com/zalando/go-keyring"
	"golang.org/x/time/rate"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSQLite_GetSet(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "local.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get missing = ok %v err %v", ok, err)
	}
	if err := s.Set(ctx, "currentCollectionId", `"a"`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "currentCollectionId", `"b"`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := s.Get(ctx, "currentCollectionId")
	if err != nil || !ok || v != `"b"` {
		t.Errorf("Get = (%q, %v, %v), want \"b\"", v, ok, err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "currentCollectionId" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestKeyring_GetSet(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	k := NewKeyring("cellstore-test")

	if _, ok, err := k.Get(ctx, "app-secrets"); ok || err != nil {
		t.Fatalf("Get missing = ok %v err %v", ok, err)
	}
	if err := k.Set(ctx, "app-secrets", `[{"key":"token","value":"x"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := Key(k, "app-secrets").Read(ctx)
	if err != nil || !ok || !strings.Contains(v, "token") {
		t.Errorf("Read = (%q, %v, %v)", v, ok, err)
	}
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3_ReadWrite(t *testing.T) {
	ctx := context.Background()
	o := NewS3(&fakeObjects{objects: map[string][]byte{}}, "backups", "cellstore/history.json")

	if _, ok, err := o.Read(ctx); ok || err != nil {
		t.Fatalf("Read missing = ok %v err %v, want not found", ok, err)
	}
	if err := o.Write(ctx, `[]`); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, ok, err := o.Read(ctx)
	if err != nil || !ok || v != `[]` {
		t.Errorf("Read = (%q, %v, %v)", v, ok, err)
	}
	if o.Name() != "s3://backups/cellstore/history.json" {
		t.Errorf("Name = %q", o.Name())
	}
}

func TestEncrypted_SealsAtRest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.json")
	b, err := Encrypted(NewFile(path), "passphrase")
	if err != nil {
		t.Fatalf("Encrypted: %v", err)
	}

	if err := b.Write(ctx, `{"token":"hunter2"}`); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "hunter2") {
		t.Errorf("file contains plaintext: %q", raw)
	}

	v, ok, err := b.Read(ctx)
	if err != nil || !ok || v != `{"token":"hunter2"}` {
		t.Errorf("Read = (%q, %v, %v)", v, ok, err)
	}

	other, _ := Encrypted(NewFile(path), "other passphrase")
	if _, _, err := other.Read(ctx); err == nil {
		t.Error("Read with wrong key should fail")
	}
}

func TestThrottled_WriteHonoursContext(t *testing.T) {
	kv := newMapKV()
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	b := Throttled(Key(kv, "k"), limiter)

	if err := b.Write(context.Background(), "first"); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Write(ctx, "second"); err == nil {
		t.Fatal("second Write should be throttled")
	}
	if kv.data["k"] != "first" {
		t.Errorf("stored = %q, want first", kv.data["k"])
	}
	if Throttled(Key(kv, "k"), nil).Name() != "kv[k]" {
		t.Error("nil limiter should return the backend unchanged")
	}
}

func TestTraced_PassesThrough(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	b := Traced(Key(kv, "k"))

	if err := b.Write(ctx, "v"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, ok, err := b.Read(ctx)
	if err != nil || !ok || v != "v" {
		t.Errorf("Read = (%q, %v, %v)", v, ok, err)
	}

	kv.getErr = errors.New("boom")
	if _, _, err := b.Read(ctx); err == nil {
		t.Error("Read error should propagate through tracing")
	}
}

func TestPostgres_GetSet(t *testing.T) {
	dsn := os.Getenv("CELLSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CELLSTORE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	p, err := NewPostgres(ctx, db, "cell_kv_test")
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	if err := p.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || v != "v1" {
		t.Errorf("Get = (%q, %v, %v)", v, ok, err)
	}
}

func TestRedis_GetSet(t *testing.T) {
	addr := os.Getenv("CELLSTORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CELLSTORE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := DialRedis(ctx, addr, "", 0, "cellstore-test:")
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer r.Close()

	if err := r.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || v != "v1" {
		t.Errorf("Get = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := r.Get(ctx, "missing-key"); ok {
		t.Error("missing key should not be found")
	}
}
