package store

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dkeye/coderoom/internal/domain"
)

func sampleState() domain.RoomState {
	s := domain.NewRoomState()
	s.Document = "print(1)"
	s.Stdin = "42"
	s.LastOutput = "1"
	s.Language = domain.LanguagePython
	s.Canvas = []domain.CanvasElement{
		{Tool: domain.ToolRectangle, Color: "#123", StrokeWidth: 2, Points: []domain.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}},
	}
	return s
}

func assertSameState(t *testing.T, got, want domain.RoomState) {
	t.Helper()
	if got.Document != want.Document || got.Stdin != want.Stdin || got.LastOutput != want.LastOutput || got.Language != want.Language {
		t.Errorf("state = %+v, want %+v", got, want)
	}
	if len(got.Canvas) != len(want.Canvas) {
		t.Fatalf("canvas len = %d, want %d", len(got.Canvas), len(want.Canvas))
	}
	for i := range want.Canvas {
		if got.Canvas[i].Tool != want.Canvas[i].Tool || len(got.Canvas[i].Points) != len(want.Canvas[i].Points) {
			t.Errorf("canvas[%d] = %+v, want %+v", i, got.Canvas[i], want.Canvas[i])
		}
	}
}

func exercise(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := st.Load(ctx, "missing"); err != nil || found {
		t.Fatalf("Load(missing) = found %v, err %v", found, err)
	}

	want := sampleState()
	if err := st.Save(ctx, "r1", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, found, err := st.Load(ctx, "r1")
	if err != nil || !found {
		t.Fatalf("Load = found %v, err %v", found, err)
	}
	assertSameState(t, got, want)

	want.Document = "print(2)"
	if err := st.Save(ctx, "r1", want); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, _, _ = st.Load(ctx, "r1")
	if got.Document != "print(2)" {
		t.Errorf("overwrite not visible: %q", got.Document)
	}

	if err := st.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := st.Load(ctx, "r1"); found {
		t.Error("snapshot still present after Delete")
	}
}

func TestSQLiteStore(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "rooms.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer st.Close()
	exercise(t, st)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	st, err := NewS3(fake, "bucket", "rooms/")
	if err != nil {
		t.Fatal(err)
	}
	exercise(t, st)

	st.Save(context.Background(), "abc", sampleState())
	if _, ok := fake.objects["bucket/rooms/abc.json"]; !ok {
		t.Errorf("unexpected object keys: %v", fake.objects)
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(&fakeS3{}, "", ""); err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	if _, err := decodeSnapshot([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
	if _, err := decodeSnapshot([]byte(`{"version":7}`)); err == nil {
		t.Error("expected version error")
	}
}
