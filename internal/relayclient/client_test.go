package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":3002,"message":"relay r1 is already registered","data":null}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, Options{}).Register(context.Background(), "r1", "edge", []byte("csr"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != 3002 {
		t.Errorf("Unexpected error %+v", apiErr)
	}
}

func TestClient_ReportCompressesPayload(t *testing.T) {
	var got map[string]any
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"code":0,"message":"success","data":{}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", Options{Token: "tok"})
	if err := c.Report(context.Background(), "r1", "t1", false, []byte("boom")); err != nil {
		t.Fatalf("Report() failed: %v", err)
	}

	if gotPath != "/api/v1/relays/r1/tasks/t1" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Unexpected authorization %q", gotAuth)
	}
	if got["resultType"] != "ERROR" || got["encoding"] != "zstd" {
		t.Errorf("Unexpected body %+v", got)
	}

	var compressed []byte
	raw, _ := json.Marshal(got["resultPayload"])
	json.Unmarshal(raw, &compressed)
	dec, _ := zstd.NewReader(nil)
	defer dec.Close()
	plain, err := dec.DecodeAll(compressed, nil)
	if err != nil || string(plain) != "boom" {
		t.Errorf("Expected zstd payload 'boom', got %q, %v", plain, err)
	}
}

func TestClient_PollQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"code":0,"message":"success","data":{"serial":"s1","items":[],"total":0}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, Options{}).Poll(context.Background(), "r1", "s1")
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if gotQuery != "serial=s1&status=pending" {
		t.Errorf("Unexpected query %q", gotQuery)
	}
	if res.Serial != "s1" {
		t.Errorf("Expected serial s1, got %s", res.Serial)
	}
}

func TestNewKeyAndCSR(t *testing.T) {
	keyPEM, csrPEM, err := NewKeyAndCSR("edge")
	if err != nil {
		t.Fatalf("NewKeyAndCSR() failed: %v", err)
	}
	if len(keyPEM) == 0 || len(csrPEM) == 0 {
		t.Error("Expected key and CSR PEM")
	}
}
