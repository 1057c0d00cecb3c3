package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/history"
	"github.com/gilburns/intuneomator/label"
)

// stubService answers the transport layer without running a pipeline.
type stubService struct {
	mu        sync.Mutex
	processed []string
	defs      []label.Definition
	readyErr  error
}

func (s *stubService) ProcessLabel(ctx context.Context, folderName string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, folderName)
	return Outcome{Label: folderName, Version: "122.0", Success: true}
}

func (s *stubService) ProcessAll(ctx context.Context) []Outcome { return nil }

func (s *stubService) ReadyLabels() ([]label.Definition, error) {
	return s.defs, s.readyErr
}

func TestHTTPListLabels(t *testing.T) {
	svc := &stubService{defs: []label.Definition{
		{Name: "firefox", TrackingID: "3cfd2e2c-4b11-4a7e-9f84-8665d3f7f7b2"},
	}}
	runs := &captureRuns{saved: []history.RunRecord{
		{Label: "firefox_3cfd2e2c-4b11-4a7e-9f84-8665d3f7f7b2", Version: "122.0", Success: true},
	}}
	server := httptest.NewServer(ServiceHandler(svc, runs))
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/labels")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatal("expected 200, got", resp.Status)
	}
	var body struct {
		Labels []struct {
			Folder     string `json:"folder"`
			Name       string `json:"name"`
			TrackingID string `json:"trackingId"`
			LastRun    *struct {
				Version string `json:"version"`
				Success bool   `json:"success"`
			} `json:"lastRun"`
		} `json:"labels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Labels) != 1 {
		t.Fatal("expected 1 label, got", len(body.Labels))
	}
	if body.Labels[0].Folder != "firefox_3cfd2e2c-4b11-4a7e-9f84-8665d3f7f7b2" {
		t.Fatal("unexpected folder", body.Labels[0].Folder)
	}
	if body.Labels[0].LastRun == nil || body.Labels[0].LastRun.Version != "122.0" {
		t.Fatal("expected last-run info, got", body.Labels[0].LastRun)
	}
}

func TestHTTPListLabelsError(t *testing.T) {
	svc := &stubService{readyErr: errors.New("titles dir unreadable")}
	server := httptest.NewServer(ServiceHandler(svc, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/labels")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatal("expected 500, got", resp.Status)
	}
}

func TestHTTPProcessLabel(t *testing.T) {
	svc := &stubService{}
	server := httptest.NewServer(ServiceHandler(svc, nil))
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/labels/firefox_3cfd2e2c-4b11-4a7e-9f84-8665d3f7f7b2/process", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatal("expected 200, got", resp.Status)
	}
	var body struct {
		Outcome Outcome `json:"outcome"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Outcome.Success || body.Outcome.Version != "122.0" {
		t.Fatal("unexpected outcome", body.Outcome)
	}
	if len(svc.processed) != 1 || svc.processed[0] != "firefox_3cfd2e2c-4b11-4a7e-9f84-8665d3f7f7b2" {
		t.Fatal("unexpected processed folders", svc.processed)
	}
}

func TestHTTPUnknownRoute(t *testing.T) {
	server := httptest.NewServer(ServiceHandler(&stubService{}, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatal("expected 404, got", resp.Status)
	}
}
