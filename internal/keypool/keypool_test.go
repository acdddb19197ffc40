package keypool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ocr_config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func readFields(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	return fields
}

func TestRoundRobinRotation(t *testing.T) {
	path := writeKeyConfig(t, `{"space_ocr_api_keys": ["K1", "K2", "K3"], "last_used_index": 0}`)
	store := NewFileStore(path)
	pool := New(store, store, SelectRoundRobin)

	var indices []int
	var keys []string
	for range 5 {
		cred, err := pool.SelectCredential(context.Background())
		require.NoError(t, err)
		indices = append(indices, cred.Index)
		keys = append(keys, cred.Key)
	}

	require.Equal(t, []int{1, 2, 0, 1, 2}, indices)
	require.Equal(t, []string{"K2", "K3", "K1", "K2", "K3"}, keys)

	cursor, err := store.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, cursor)
}

func TestSingleKeyMode(t *testing.T) {
	path := writeKeyConfig(t, `{"space_ocr_api_key": "ONLY", "space_ocr_api_keys": ["A", "B"], "last_used_index": 1}`)
	store := NewFileStore(path)
	pool := New(store, store, SelectRoundRobin)

	for range 3 {
		cred, err := pool.SelectCredential(context.Background())
		require.NoError(t, err)
		require.Equal(t, "ONLY", cred.Key)
		require.Equal(t, 0, cred.Index)
	}

	// single key wins and never touches the cursor
	require.EqualValues(t, 1, readFields(t, path)["last_used_index"])

	status, err := pool.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, Status{Mode: ModeSingle, KeyCount: 1}, status)
}

func TestRandomSelection(t *testing.T) {
	path := writeKeyConfig(t, `{"space_ocr_api_keys": ["A", "B", "C"], "last_used_index": 0}`)
	store := NewFileStore(path)
	pool := New(store, nil, SelectRandom)

	picks := []int{2, 0, 1}
	pool.intn = func(n int) int {
		require.Equal(t, 3, n)
		p := picks[0]
		picks = picks[1:]
		return p
	}

	var got []string
	for range 3 {
		cred, err := pool.SelectCredential(context.Background())
		require.NoError(t, err)
		got = append(got, cred.Key)
	}
	require.Equal(t, []string{"C", "A", "B"}, got)
	require.EqualValues(t, 0, readFields(t, path)["last_used_index"])
}

func TestNoKeysConfigured(t *testing.T) {
	tests := []struct {
		name string
		body *string
	}{
		{"missing file", nil},
		{"malformed json", ptr(`{"space_ocr_api_keys": [`)},
		{"empty list", ptr(`{"space_ocr_api_keys": [], "last_used_index": 0}`)},
		{"blank keys", ptr(`{"space_ocr_api_keys": ["", "  "]}`)},
		{"no key fields", ptr(`{"last_used_index": 0}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ocr_config.json")
			if tt.body != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.body), 0o600))
			}
			store := NewFileStore(path)
			pool := New(store, store, SelectRoundRobin)

			_, err := pool.SelectCredential(context.Background())
			require.ErrorIs(t, err, ErrNoKeysConfigured)
			require.True(t, IsFatal(err))
		})
	}
}

func TestOutOfRangeCursorIsNormalized(t *testing.T) {
	path := writeKeyConfig(t, `{"space_ocr_api_keys": ["A", "B"], "last_used_index": 7}`)
	store := NewFileStore(path)
	pool := New(store, store, SelectRoundRobin)

	cred, err := pool.SelectCredential(context.Background())
	require.NoError(t, err)
	// 7 normalizes to 1, the next index is 0
	require.Equal(t, 0, cred.Index)
	require.Equal(t, "A", cred.Key)

	path = writeKeyConfig(t, `{"space_ocr_api_keys": ["A", "B", "C"], "last_used_index": -4}`)
	store = NewFileStore(path)
	pool = New(store, store, SelectRoundRobin)

	cred, err = pool.SelectCredential(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, cred.Index)
}

func TestAdvancePreservesUnknownFields(t *testing.T) {
	path := writeKeyConfig(t, `{"space_ocr_api_keys": ["A", "B"], "last_used_index": 0, "owner": "ops", "quota": 500}`)
	store := NewFileStore(path)

	_, err := store.Advance(context.Background(), 2)
	require.NoError(t, err)

	fields := readFields(t, path)
	require.Equal(t, "ops", fields["owner"])
	require.EqualValues(t, 500, fields["quota"])
	require.EqualValues(t, 1, fields["last_used_index"])
}

func TestStatusDoesNotAdvance(t *testing.T) {
	path := writeKeyConfig(t, `{"space_ocr_api_keys": ["A", "B", "C"], "last_used_index": 1}`)
	store := NewFileStore(path)
	pool := New(store, store, SelectRoundRobin)

	for range 3 {
		status, err := pool.Status(context.Background())
		require.NoError(t, err)
		require.Equal(t, Status{Mode: ModeRoundRobin, KeyCount: 3, Cursor: 1}, status)
	}
	require.EqualValues(t, 1, readFields(t, path)["last_used_index"])
}

func TestConcurrentSelectionsShareCursor(t *testing.T) {
	path := writeKeyConfig(t, `{"space_ocr_api_keys": ["A", "B", "C", "D"], "last_used_index": 0}`)
	store := NewFileStore(path)
	pool := New(store, store, SelectRoundRobin)

	const workers = 8
	var wg sync.WaitGroup
	counts := make([]int, 4)
	var mu sync.Mutex

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := pool.SelectCredential(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			counts[cred.Index]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// 8 serialized advances over 4 keys hit each key exactly twice
	require.Equal(t, []int{2, 2, 2, 2}, counts)

	cursor, err := store.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, cursor)
}

func TestSQLStoreRotation(t *testing.T) {
	ctx := context.Background()
	keysPath := writeKeyConfig(t, `{"space_ocr_api_keys": ["K1", "K2", "K3"]}`)

	db, err := OpenSQLStore(ctx, filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool := New(NewFileStore(keysPath), db, SelectRoundRobin)

	var indices []int
	for range 5 {
		cred, err := pool.SelectCredential(ctx)
		require.NoError(t, err)
		indices = append(indices, cred.Index)
	}
	require.Equal(t, []int{1, 2, 0, 1, 2}, indices)

	cursor, err := db.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, cursor)

	status, err := pool.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.Cursor)
}

func TestSQLStoreReopenKeepsCursor(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "keys.db")

	db, err := OpenSQLStore(ctx, path)
	require.NoError(t, err)
	_, err = db.Advance(ctx, 4)
	require.NoError(t, err)
	_, err = db.Advance(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenSQLStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cursor, err := db.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, cursor)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, 0, Normalize(3, 3))
	require.Equal(t, 2, Normalize(-1, 3))
	require.Equal(t, 1, Normalize(10, 3))
	require.Equal(t, 0, Normalize(5, 0))
}

func ptr(s string) *string { return &s }
