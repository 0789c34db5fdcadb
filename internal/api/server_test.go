package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/projectlend/lend/internal/frameslot"
	"github.com/projectlend/lend/internal/pipeline"
	"github.com/projectlend/lend/internal/records"
	"github.com/projectlend/lend/internal/state"
	"github.com/projectlend/lend/internal/types"
)

type nopClassifier struct{}

func (nopClassifier) Classify(ctx context.Context, jpegBytes []byte) (types.ClassificationResult, error) {
	return types.ClassificationResult{Category: types.CategorySnack, ItemName: "Chips"}, nil
}

type nopSource struct{}

func (nopSource) Take() *types.Frame { return nil }

func testServer(t *testing.T) (*Server, *records.Store, *state.Publisher, *frameslot.Slot) {
	t.Helper()

	store, err := records.Open(filepath.Join(t.TempDir(), "donations.db"))
	if err != nil {
		t.Fatalf("records.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pub := state.New()
	slot := frameslot.New()

	ctrl, err := pipeline.New(pipeline.Config{
		TriggerMode:  "manual",
		TickInterval: 10 * time.Millisecond,
	}, nopSource{}, nopClassifier{}, nil, store, nil, pub)
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}

	srv := New(":0", Deps{
		Store:     store,
		Publisher: pub,
		Pipeline:  ctrl,
		Frames:    slot,
		Liveness: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
	return srv, store, pub, slot
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// TestDonationsEndpoints verifies the ledger listing and recent views.
func TestDonationsEndpoints(t *testing.T) {
	srv, store, _, _ := testServer(t)

	for _, name := range []string{"Apple", "Chips", "Juice"} {
		if _, err := store.Append(types.DonationRecord{Category: types.CategoryFruit, ItemName: name}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/donations")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var all []types.DonationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(all) != 3 || all[0].ItemName != "Apple" {
		t.Errorf("unexpected listing: %+v", all)
	}

	rec = doRequest(t, srv, http.MethodGet, "/donations/recent?limit=2")
	var recent []types.DonationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &recent); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ItemName != "Juice" {
		t.Errorf("unexpected recent: %+v", recent)
	}

	if rec := doRequest(t, srv, http.MethodGet, "/donations/recent?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

// TestStateEndpoint verifies /state reflects the publisher snapshot.
func TestStateEndpoint(t *testing.T) {
	srv, _, pub, _ := testServer(t)

	pub.Publish(types.ModeWatching, "watching for donations")

	rec := doRequest(t, srv, http.MethodGet, "/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap types.PipelineSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.Mode != types.ModeWatching {
		t.Errorf("expected watching, got %q", snap.Mode)
	}
}

// TestStatsEndpoint verifies donation stats and pipeline counters combine.
func TestStatsEndpoint(t *testing.T) {
	srv, store, _, _ := testServer(t)

	if _, err := store.Append(types.DonationRecord{Category: types.CategoryDrink, ItemName: "Juice"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		TotalItems int `json:"total_items"`
		Pipeline   struct {
			Mode string `json:"mode"`
		} `json:"pipeline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.TotalItems != 1 {
		t.Errorf("expected 1 item, got %d", body.TotalItems)
	}
	if body.Pipeline.Mode == "" {
		t.Error("expected pipeline mode in stats")
	}
}

// TestTriggerEndpoint verifies manual trigger accept and busy rejection. The
// controller is not running, so the first request queues and the second hits
// the full trigger buffer.
func TestTriggerEndpoint(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/trigger")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/trigger")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for queued trigger, got %d", rec.Code)
	}
}

// TestFrameEndpoint verifies the snapshot endpoint with and without a frame.
func TestFrameEndpoint(t *testing.T) {
	srv, _, _, slot := testServer(t)

	if rec := doRequest(t, srv, http.MethodGet, "/frame.jpg"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with no frame, got %d", rec.Code)
	}

	data := make([]byte, 8*8*3)
	for i := range data {
		data[i] = 128
	}
	slot.Put(&types.Frame{
		Seq:       1,
		Timestamp: time.Now(),
		Width:     8,
		Height:    8,
		Format:    types.FormatRGB24,
		Data:      data,
	})

	rec := doRequest(t, srv, http.MethodGet, "/frame.jpg")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("unexpected content type %q", ct)
	}
	if body := rec.Body.Bytes(); len(body) < 4 || body[0] != 0xff || body[1] != 0xd8 {
		t.Error("expected JPEG magic in response body")
	}
}

// TestHealthRoute verifies the orchestrator-provided liveness handler mounts.
func TestHealthRoute(t *testing.T) {
	srv, _, _, _ := testServer(t)

	if rec := doRequest(t, srv, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
