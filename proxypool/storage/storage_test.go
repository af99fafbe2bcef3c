package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"socks5_inspector/internal/shared/types"
	"socks5_inspector/proxypool/merge"
	"socks5_inspector/proxypool/model"
)

func sampleRecords() []model.Record {
	saved := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	return []model.Record{
		{Raw: "1.2.3.4:1080:alice:pw", Status: model.StatusSuccess, Latency: "321ms", ExitIP: "1.2.3.4", Region: "日本 - 东京", ISP: "NTT", SavedAt: saved},
		{Raw: "5.6.7.8:1080", Status: model.StatusSuccess, Latency: "88ms", ExitIP: "5.6.7.9", Region: "美国 - 洛杉矶", ISP: "Foo Inc", SavedAt: saved.Add(time.Minute)},
	}
}

// exerciseStore runs the shared whole-document contract against any backend.
func exerciseStore(t *testing.T, store RecordStore) {
	t.Helper()
	ctx := context.Background()

	empty, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read() on empty store returned an error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Expected empty store, got %+v", empty)
	}

	records := sampleRecords()
	if err := store.Write(ctx, records); err != nil {
		t.Fatalf("Write() returned an error: %v", err)
	}
	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read() returned an error: %v", err)
	}
	assertRecordsEqual(t, got, records)

	// A write replaces the whole document.
	replacement := records[1:]
	if err := store.Write(ctx, replacement); err != nil {
		t.Fatalf("second Write() returned an error: %v", err)
	}
	got, err = store.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertRecordsEqual(t, got, replacement)
}

func assertRecordsEqual(t *testing.T, got, want []model.Record) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		g, w := got[i], want[i]
		if !g.SavedAt.Equal(w.SavedAt) {
			t.Errorf("record %d: SavedAt %v, want %v", i, g.SavedAt, w.SavedAt)
		}
		g.SavedAt, w.SavedAt = time.Time{}, time.Time{}
		if !reflect.DeepEqual(g, w) {
			t.Errorf("record %d: got %+v, want %+v", i, g, w)
		}
	}
}

func TestFileStorage_Contract(t *testing.T) {
	store := NewFileStorage(filepath.Join(t.TempDir(), "records.txt"))
	exerciseStore(t, store)
}

func TestFileStorage_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.txt")
	content := "a:1|success|10ms|1.1.1.1|CN - SH|ISP|0\n" +
		"too|few|fields\n" +
		"b:1|weird|10ms|1.1.1.1|CN - SH|ISP|0\n" +
		"c:1|failure|-|-|-|-|notanumber\n" +
		"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileStorage(path).Read(context.Background())
	if err != nil {
		t.Fatalf("Read() returned an error: %v", err)
	}
	if len(got) != 1 || got[0].Raw != "a:1" || !got[0].SavedAt.IsZero() {
		t.Fatalf("Expected only the well-formed line, got %+v", got)
	}
}

func TestFileStorage_SpecialCharactersRoundTrip(t *testing.T) {
	store := NewFileStorage(filepath.Join(t.TempDir(), "records.txt"))
	in := []model.Record{{
		Raw:     "1.2.3.4:1080:alice:p|w%7C",
		Status:  model.StatusSuccess,
		Latency: "1ms",
		ExitIP:  "1.1.1.1",
		Region:  "A|B - C",
		ISP:     "x\ny 100%",
	}}
	if err := store.Write(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	got, err := store.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assertRecordsEqual(t, got, in)
}

func TestFileStorage_MergeCyclesKeepOneRecordPerRaw(t *testing.T) {
	ctx := context.Background()
	store := NewFileStorage(filepath.Join(t.TempDir(), "records.txt"))
	fresh := []model.Record{{Raw: "1.2.3.4:1080:alice:p|w", Status: model.StatusSuccess, Latency: "5ms", ExitIP: "1.2.3.4", Region: "CN - SH", ISP: "ISP"}}

	for i := 0; i < 2; i++ {
		persisted, err := store.Read(ctx)
		if err != nil {
			t.Fatalf("cycle %d: Read() returned an error: %v", i, err)
		}
		if err := store.Write(ctx, merge.Merge(persisted, fresh)); err != nil {
			t.Fatalf("cycle %d: Write() returned an error: %v", i, err)
		}
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Raw != "1.2.3.4:1080:alice:p|w" {
		t.Fatalf("Expected a single record keyed by the original address, got %+v", got)
	}
}

func TestRedisStorage_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStorage(client, "test:records")
	t.Cleanup(func() { store.Close() })

	exerciseStore(t, store)

	if !mr.Exists("test:records") {
		t.Error("Expected records to live under the configured key")
	}
}

func TestRedisStorage_CorruptDocument(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("test:records", "{not json")
	store := NewRedisStorage(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:records")
	defer store.Close()

	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("Expected an error for a corrupt document")
	}
}

func TestSQLStorage_ContractOnSQLite(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := OpenSQL("sqlite", dsn)
	if err != nil {
		t.Fatalf("OpenSQL() returned an error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	exerciseStore(t, store)
}

func TestNew_SelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cases := []struct {
		name string
		cfg  types.StoreConf
		want string
	}{
		{"file", types.StoreConf{Backend: "file", Path: filepath.Join(t.TempDir(), "r.txt")}, "*storage.FileStorage"},
		{"redis", types.StoreConf{Backend: "redis", RedisAddr: mr.Addr(), RedisKey: "k"}, "*storage.RedisStorage"},
		{"sqlite", types.StoreConf{Backend: "sqlite", DSN: "file:newtest?mode=memory&cache=shared"}, "*storage.SQLStorage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := New(context.Background(), tc.cfg)
			if err != nil {
				t.Fatalf("New() returned an error: %v", err)
			}
			defer store.Close()
			if got := fmt.Sprintf("%T", store); got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}

	if _, err := New(context.Background(), types.StoreConf{Backend: "sheets"}); err == nil {
		t.Error("Expected an error for an unknown backend")
	}
	if _, err := New(context.Background(), types.StoreConf{Backend: "redis"}); err == nil {
		t.Error("Expected an error for redis without an address")
	}
}
