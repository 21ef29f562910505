package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chainlens/internal/domain"
)

func TestClientFetchPageRoutesByMode(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for key := range r.URL.Query() {
			gotQuery[key] = r.URL.Query().Get(key)
		}
		json.NewEncoder(w).Encode([]domain.Transaction{{Hash: "0xabc"}})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		mode     Mode
		wantPath string
		wantKey  string
		wantVal  string
	}{
		{Latest(), "/transactions/latest", "", ""},
		{Search("0xdead"), "/transactions/search", "q", "0xdead"},
		{Filter(domain.CategoryFailed), "/transactions/filter", "category", "failed"},
	}
	for _, tc := range cases {
		page, err := client.FetchPage(ctx, tc.mode, 5, 10)
		if err != nil {
			t.Fatalf("%s: fetch: %v", tc.mode, err)
		}
		if gotPath != tc.wantPath {
			t.Fatalf("%s: expected path %q, got %q", tc.mode, tc.wantPath, gotPath)
		}
		if gotQuery["limit"] != "5" || gotQuery["offset"] != "10" {
			t.Fatalf("%s: pagination not forwarded: %v", tc.mode, gotQuery)
		}
		if tc.wantKey != "" && gotQuery[tc.wantKey] != tc.wantVal {
			t.Fatalf("%s: expected %s=%s, got %v", tc.mode, tc.wantKey, tc.wantVal, gotQuery)
		}
		if len(page) != 1 || page[0].Hash != "0xabc" {
			t.Fatalf("%s: unexpected page %+v", tc.mode, page)
		}
	}
}

func TestClientFetchPageSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "q is required"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.FetchPage(context.Background(), Search(""), 5, 0)
	if err == nil {
		t.Fatal("expected error from rejected request")
	}
}
