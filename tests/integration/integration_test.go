//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	baseURL    string
	httpClient *http.Client
)

// Response types, defined locally to keep tests black-box (no internal imports).

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type suggestionResponse struct {
	Kind  string  `json:"kind"`
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Slug  string  `json:"slug"`
	Image string  `json:"image"`
	Price *string `json:"price"`
}

type suggestionSetResponse struct {
	Epoch      uint64               `json:"epoch"`
	Query      string               `json:"query"`
	Products   []suggestionResponse `json:"products"`
	Shops      []suggestionResponse `json:"shops"`
	Categories []suggestionResponse `json:"categories"`
}

type productResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Price    string `json:"price"`
	Image    string `json:"image"`
	ShopID   string `json:"shop_id"`
	Category string `json:"category"`
}

type feedResponse struct {
	Generation uint64 `json:"generation"`
	Filter     struct {
		Search   string `json:"search"`
		Category string `json:"category"`
	} `json:"filter"`
	Status  string            `json:"status"`
	Page    int               `json:"page"`
	HasMore bool              `json:"has_more"`
	Loaded  int               `json:"loaded"`
	Sort    string            `json:"sort"`
	View    string            `json:"view"`
	Items   []productResponse `json:"items"`
}

type sessionResponse struct {
	ID   string       `json:"id"`
	Feed feedResponse `json:"feed"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("docker-compose.test.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}

	// Postgres is seeded before the stub starts; the storefront is ready once
	// the stub answers its directory endpoint.
	err = dc.
		WaitForService("storefront", wait.ForHTTP("/readyz").WithPort("8080/tcp")).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Fatalf("compose up: %v", err)
	}

	container, err := dc.ServiceContainer(ctx, "storefront")
	if err != nil {
		log.Fatalf("storefront container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "8080/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	baseURL = fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
	httpClient = &http.Client{Timeout: 10 * time.Second}
	log.Printf("Storefront available at %s", baseURL)

	result := m.Run()

	// The compose file sets stop_signal: SIGINT because app.Run handles
	// SIGINT for graceful shutdown.
	stopTimeout := 30 * time.Second
	if err := container.Stop(ctx, &stopTimeout); err != nil {
		log.Printf("stop storefront container: %v", err)
	}

	if err := dc.Down(context.Background(), tc.RemoveOrphans(true)); err != nil {
		log.Printf("compose down: %v", err)
	}

	return result
}

// HTTP helpers.

func do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, rd)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	return resp
}

func doGet(t *testing.T, path string) *http.Response {
	t.Helper()
	return do(t, http.MethodGet, path, nil)
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	return v
}

// createSession opens a session and removes it when the test ends.
func createSession(t *testing.T) sessionResponse {
	t.Helper()

	resp := do(t, http.MethodPost, "/api/sessions", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d", resp.StatusCode)
	}
	s := decodeJSON[sessionResponse](t, resp)

	t.Cleanup(func() {
		resp := do(t, http.MethodDelete, "/api/sessions/"+s.ID, nil)
		resp.Body.Close()
	})
	return s
}

// eventually polls fn until it returns true or the deadline passes.
func eventually(t *testing.T, what string, fn func() bool) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func getFeed(t *testing.T, id, query string) feedResponse {
	t.Helper()

	resp := doGet(t, "/api/sessions/"+id+"/feed"+query)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get feed: expected 200, got %d", resp.StatusCode)
	}
	return decodeJSON[feedResponse](t, resp)
}

// waitFeed polls the feed until it reaches one of the given statuses.
func waitFeed(t *testing.T, id string, statuses ...string) feedResponse {
	t.Helper()

	var last feedResponse
	eventually(t, fmt.Sprintf("feed status %v", statuses), func() bool {
		last = getFeed(t, id, "")
		for _, s := range statuses {
			if last.Status == s {
				return true
			}
		}
		return false
	})
	return last
}
