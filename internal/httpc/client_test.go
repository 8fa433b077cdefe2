package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"session_id":"s-1"}`))
	})
	mux.HandleFunc("POST /api/trials/dwell", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Target int `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target != 4 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad target"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"trial_id":"t-1"}`))
	})
	mux.HandleFunc("POST /api/trials/selection", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"engine: trial in progress"}`))
	})
	mux.HandleFunc("POST /api/session/end", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s-1","ended":true,"total_tests":1,"successful":1,"success_rate":1}`))
	})
	mux.HandleFunc("GET /api/sessions/current/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("test_type,outcome\nDWELL,SUCCESS\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOperator_SessionFlow(t *testing.T) {
	srv := fakeAPI(t)
	op := NewOperator(srv.URL + "/")
	ctx := context.Background()

	id, err := op.StartSession(ctx)
	if err != nil || id != "s-1" {
		t.Fatalf("StartSession() = %q, %v", id, err)
	}
	trialID, err := op.StartDwell(ctx, 4)
	if err != nil || trialID != "t-1" {
		t.Fatalf("StartDwell() = %q, %v", trialID, err)
	}
	sum, err := op.EndSession(ctx)
	if err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if !sum.Ended || sum.Total != 1 || sum.SuccessRate != 1 {
		t.Errorf("summary = %+v", sum)
	}
	csv, err := op.ExportSession(ctx, "current")
	if err != nil {
		t.Fatal(err)
	}
	if string(csv) != "test_type,outcome\nDWELL,SUCCESS\n" {
		t.Errorf("csv = %q", csv)
	}
}

func TestOperator_APIError(t *testing.T) {
	srv := fakeAPI(t)
	op := NewOperator(srv.URL)

	_, err := op.StartSelection(context.Background(), []int{1, 2})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "engine: trial in progress" {
		t.Errorf("APIError = %+v", apiErr)
	}

	if _, err := op.StartDwell(context.Background(), 9); err == nil {
		t.Error("expected bad request error")
	}
}

func TestOperator_Unreachable(t *testing.T) {
	op := NewOperator("http://127.0.0.1:1")
	if _, err := op.StartSession(context.Background()); err == nil {
		t.Error("expected connection error")
	}
}
