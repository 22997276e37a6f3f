// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// recordedRequest captures one request for assertions.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Prefer string
	Body   []byte
}

// testStore is an httptest-backed PostgREST fake.
type testStore struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
	server   *httptest.Server
	client   *Client
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()

	ts := &testStore{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("apikey"); got != "test-key" {
			t.Errorf("apikey header = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}

		body, _ := io.ReadAll(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Prefer: r.Header.Get("Prefer"),
			Body:   body,
		})
		handler := ts.handler
		ts.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	t.Cleanup(ts.server.Close)

	ts.client = New(ts.server.URL, "test-key")
	return ts
}

func (ts *testStore) respond(fn func(w http.ResponseWriter, r *http.Request)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.handler = fn
}

func (ts *testStore) request(i int) recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if i >= len(ts.requests) {
		return recordedRequest{}
	}
	return ts.requests[i]
}

func (ts *testStore) requestCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.requests)
}

func TestUpsertRows(t *testing.T) {
	ts := newTestStore(t)

	rows := []Row{{"appid": 730, "name": "CS2"}}
	if err := ts.client.UpsertRows(context.Background(), "apps", rows, "appid"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	req := ts.request(0)
	if req.Method != "POST" || req.Path != "/rest/v1/apps" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if !strings.Contains(req.Query, "on_conflict=appid") {
		t.Errorf("query = %q, want on_conflict=appid", req.Query)
	}
	if !strings.Contains(req.Prefer, "resolution=merge-duplicates") {
		t.Errorf("prefer = %q", req.Prefer)
	}
	if !strings.Contains(string(req.Body), `"name":"CS2"`) {
		t.Errorf("body = %s", req.Body)
	}
}

func TestUpsertRowsEmptyIsNoop(t *testing.T) {
	ts := newTestStore(t)
	if err := ts.client.UpsertRows(context.Background(), "apps", nil, "appid"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := ts.requestCount(); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
}

func TestDeleteByAppID(t *testing.T) {
	ts := newTestStore(t)
	if err := ts.client.DeleteByAppID(context.Background(), "app_steam_tags", 730); err != nil {
		t.Fatalf("delete: %v", err)
	}

	req := ts.request(0)
	if req.Method != "DELETE" || req.Path != "/rest/v1/app_steam_tags" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if !strings.Contains(req.Query, "appid=eq.730") {
		t.Errorf("query = %q", req.Query)
	}
}

func TestUpsertFranchise(t *testing.T) {
	ts := newTestStore(t)
	ts.respond(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "42")
	})

	id, err := ts.client.UpsertFranchise(context.Background(), "Half-Life")
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	if id != 42 {
		t.Errorf("franchise id = %d, want 42", id)
	}

	req := ts.request(0)
	if req.Path != "/rest/v1/rpc/upsert_franchise" {
		t.Errorf("path = %s", req.Path)
	}
	if !strings.Contains(string(req.Body), `"p_name":"Half-Life"`) {
		t.Errorf("body = %s", req.Body)
	}
}

func TestExistingAppIDs(t *testing.T) {
	ts := newTestStore(t)
	ts.respond(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"appid":730},{"appid":570}]`)
	})

	existing, err := ts.client.ExistingAppIDs(context.Background(), []uint32{730, 570, 999999})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !existing[730] || !existing[570] || existing[999999] {
		t.Errorf("existing = %v", existing)
	}

	req := ts.request(0)
	if !strings.Contains(req.Query, "select=appid") {
		t.Errorf("query = %q", req.Query)
	}
}

func TestAuthorityProbes(t *testing.T) {
	ts := newTestStore(t)
	ts.respond(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"appid":730}]`)
	})

	t.Run("release date", func(t *testing.T) {
		set, err := ts.client.AppIDsWithReleaseDate(context.Background(), []uint32{730, 570})
		if err != nil {
			t.Fatalf("probe: %v", err)
		}
		if !set[730] || set[570] {
			t.Errorf("set = %v", set)
		}
		last := ts.request(ts.requestCount() - 1)
		if !strings.Contains(last.Query, "release_date_raw=not.is.null") {
			t.Errorf("query = %q", last.Query)
		}
	})

	t.Run("storefront sync", func(t *testing.T) {
		set, err := ts.client.AppIDsWithStorefrontSync(context.Background(), []uint32{730})
		if err != nil {
			t.Fatalf("probe: %v", err)
		}
		if !set[730] {
			t.Errorf("set = %v", set)
		}
		last := ts.request(ts.requestCount() - 1)
		if last.Path != "/rest/v1/sync_status" {
			t.Errorf("path = %s", last.Path)
		}
		if !strings.Contains(last.Query, "last_storefront_sync=not.is.null") {
			t.Errorf("query = %q", last.Query)
		}
	})
}

func TestUnsyncedAppIDsKeysetPagination(t *testing.T) {
	ts := newTestStore(t)

	// First page full (pageSize rows), second short: the client must send a
	// second request with the cursor advanced and then stop.
	page := 0
	ts.respond(func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			rows := make([]map[string]uint32, pageSize)
			for i := range rows {
				rows[i] = map[string]uint32{"appid": uint32(i + 1)}
			}
			_ = json.NewEncoder(w).Encode(rows)
			return
		}
		if got := r.URL.Query().Get("appid"); got != fmt.Sprintf("gt.%d", pageSize) {
			t.Errorf("second page cursor = %q", got)
		}
		fmt.Fprintf(w, `[{"appid":%d}]`, pageSize+5)
	})

	ids, err := ts.client.UnsyncedAppIDs(context.Background())
	if err != nil {
		t.Fatalf("unsynced: %v", err)
	}
	if len(ids) != pageSize+1 {
		t.Errorf("ids = %d, want %d", len(ids), pageSize+1)
	}
	if ids[len(ids)-1] != uint32(pageSize+5) {
		t.Errorf("last id = %d", ids[len(ids)-1])
	}
	if page != 2 {
		t.Errorf("pages fetched = %d, want 2", page)
	}

	first := ts.request(0)
	if !strings.Contains(first.Query, "last_pics_sync=is.null") {
		t.Errorf("query = %q", first.Query)
	}
	if strings.Contains(first.Query, "offset") {
		t.Errorf("offset pagination is forbidden, query = %q", first.Query)
	}
}

func TestChangeCursor(t *testing.T) {
	ts := newTestStore(t)

	t.Run("missing row reads as zero", func(t *testing.T) {
		n, err := ts.client.LastChangeNumber(context.Background())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n != 0 {
			t.Errorf("cursor = %d, want 0", n)
		}
	})

	t.Run("read", func(t *testing.T) {
		ts.respond(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[{"last_change_number":12345}]`)
		})
		n, err := ts.client.LastChangeNumber(context.Background())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n != 12345 {
			t.Errorf("cursor = %d", n)
		}
	})

	t.Run("write upserts the singleton", func(t *testing.T) {
		ts.respond(nil)
		if err := ts.client.SetLastChangeNumber(context.Background(), 12346); err != nil {
			t.Fatalf("write: %v", err)
		}
		last := ts.request(ts.requestCount() - 1)
		if last.Path != "/rest/v1/pics_sync_state" {
			t.Errorf("path = %s", last.Path)
		}
		if !strings.Contains(string(last.Body), `"id":1`) {
			t.Errorf("body = %s", last.Body)
		}
		if !strings.Contains(string(last.Body), `"last_change_number":12346`) {
			t.Errorf("body = %s", last.Body)
		}
	})
}

func TestMarkPICSSyncedChunks(t *testing.T) {
	ts := newTestStore(t)

	appids := make([]uint32, syncStatusBatchSize+10)
	for i := range appids {
		appids[i] = uint32(i + 1)
	}
	if err := ts.client.MarkPICSSynced(context.Background(), appids, time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got := ts.requestCount(); got != 2 {
		t.Errorf("requests = %d, want 2 chunks", got)
	}
	first := ts.request(0)
	if !strings.Contains(string(first.Body), "last_pics_sync") {
		t.Errorf("body = %s", first.Body)
	}
}

func TestErrorStatusSurfaces(t *testing.T) {
	ts := newTestStore(t)
	ts.respond(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	})

	err := ts.client.UpsertRows(context.Background(), "apps", []Row{{"appid": 1}}, "appid")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want status in message", err)
	}
}
