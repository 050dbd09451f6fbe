package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/slicer"
)

func newTestHandlers() (*Handlers, *mux.Router, *driver.RecordingDriver, *slicer.Controller) {
	d := &driver.RecordingDriver{}
	c := slicer.NewController(d, 600)
	h := NewHandlers(c, "test", 600)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return h, router, d, c
}

func TestHealthEndpointListsAttachedDatapaths(t *testing.T) {
	_, router, _, c := newTestHandlers()
	if err := c.Attach(1, []uint32{1, 2}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/slicer/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Datapaths) != 1 || resp.Datapaths[0] != "0000000000000001" {
		t.Fatalf("Datapaths = %+v", resp.Datapaths)
	}
	if resp.Version != "test" {
		t.Fatalf("Version = %q", resp.Version)
	}
}

func TestGetConfigUnknownDatapathIs404(t *testing.T) {
	_, router, _, _ := newTestHandlers()

	req := httptest.NewRequest("GET", "/slicer/api/v1/config/0000000000000099", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPostThenGetConfigRoundtrip(t *testing.T) {
	_, router, _, c := newTestHandlers()
	if err := c.Attach(1, []uint32{1, 2}); err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"slices":[[[1,100],[2,200]]]}`)
	req := httptest.NewRequest("POST", "/slicer/api/v1/config/0000000000000001", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest("GET", "/slicer/api/v1/config/0000000000000001", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	var cfg [][]wireTuple
	if err := json.Unmarshal(rec2.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg) != 1 || len(cfg[0]) != 2 {
		t.Fatalf("expected a single 2-tuple slice, got %+v", cfg)
	}
}

func TestPostMalformedJSONIs400(t *testing.T) {
	_, router, _, _ := newTestHandlers()

	req := httptest.NewRequest("POST", "/slicer/api/v1/config/0000000000000001", bytes.NewReader([]byte(`{not json`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPostNegativeTupleElementIsRejectedWithoutStateChange(t *testing.T) {
	_, router, _, c := newTestHandlers()
	if err := c.Attach(1, []uint32{1}); err != nil {
		t.Fatal(err)
	}
	if err := c.ApplyConfig(1, nil, nil); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/slicer/api/v1/config/0000000000000001",
		bytes.NewReader([]byte(`{"slices":[[[-1]]]}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	cfg, err := c.GetConfig(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg) != 0 {
		t.Fatalf("expected no state change from a rejected request, got %+v", cfg)
	}
}

func TestPostWithLearnAppliesLearning(t *testing.T) {
	_, router, _, c := newTestHandlers()
	if err := c.Attach(1, []uint32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"slices":[[[1],[2],[3]]],"learn":{"mac":"aa:bb:cc:dd:ee:ff","tuple":[1]}}`)
	req := httptest.NewRequest("POST", "/slicer/api/v1/config/0000000000000001", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
