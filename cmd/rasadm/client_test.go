package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestActionConfirmationRoundTrip(t *testing.T) {
	var calls []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, body)
		w.Header().Set("Content-Type", "application/json")
		if body["token"] == nil {
			w.WriteHeader(http.StatusPreconditionRequired)
			_, _ = w.Write([]byte(`{"action":"remove_device","state":"confirmation_required","prompt":"Are you sure?","token":"tok-1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"action":"remove_device","state":"executed","message":"Disconnected SCSI ID 1"}`))
	}))
	defer srv.Close()

	assumeYes = true
	defer func() { assumeYes = false }()

	if err := runAction(newAPIClient(srv.URL), http.MethodPost, "/api/devices/1/detach", nil); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(calls))
	}
	if calls[1]["token"] != "tok-1" || calls[1]["cancel"] != false {
		t.Fatalf("confirmation body = %v", calls[1])
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"subprocess","message":"rasctl attach failed","details":{"command":"rasctl -i 1 -c attach","lines":["Error : Duplicate ID 1"]}}}`))
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL).action(http.MethodPost, "/api/devices/1/attach", map[string]any{"type": "hd"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Code != "subprocess" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if len(apiErr.Lines) != 1 || apiErr.Lines[0] != "Error : Duplicate ID 1" {
		t.Fatalf("lines = %v", apiErr.Lines)
	}
}

func TestParseID(t *testing.T) {
	if _, err := parseID("8"); err == nil {
		t.Fatal("expected error for 8")
	}
	if id, err := parseID("07"); err != nil || id != "7" {
		t.Fatalf("parseID(07) = %q, %v", id, err)
	}
}
