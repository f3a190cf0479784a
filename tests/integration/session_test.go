//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// The seed data holds 50 products, 8 of them televisions; the storefront
// runs with a feed page size of 20.

func TestSession_FirstPage(t *testing.T) {
	s := createSession(t)
	if s.ID == "" {
		t.Fatal("empty session id")
	}

	feed := waitFeed(t, s.ID, "idle")
	if feed.Loaded != 20 || len(feed.Items) != 20 {
		t.Fatalf("expected 20 items, got loaded=%d items=%d", feed.Loaded, len(feed.Items))
	}
	if !feed.HasMore {
		t.Error("expected has_more")
	}
	if feed.Items[0].ID != "1" {
		t.Errorf("expected feed ordered by id, first is %q", feed.Items[0].ID)
	}
	if !strings.HasSuffix(feed.Items[0].Image, "/media/products/galaxy-a15.jpg") {
		t.Errorf("unexpected image %q", feed.Items[0].Image)
	}
}

func TestSession_SentinelPaginatesToEnd(t *testing.T) {
	s := createSession(t)
	waitFeed(t, s.ID, "idle")

	resp := do(t, http.MethodPost, "/api/sessions/"+s.ID+"/sentinel", map[string]bool{"visible": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	feed := waitFeed(t, s.ID, "exhausted")
	if feed.Loaded != 50 {
		t.Fatalf("expected 50 loaded, got %d", feed.Loaded)
	}
	seen := make(map[string]bool)
	for _, p := range feed.Items {
		if seen[p.ID] {
			t.Fatalf("duplicate product %s", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestSession_CategoryFilterAndDisplay(t *testing.T) {
	s := createSession(t)
	waitFeed(t, s.ID, "idle")

	resp := do(t, http.MethodPut, "/api/sessions/"+s.ID+"/filter", map[string]any{"category": "televisions"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	started := decodeJSON[feedResponse](t, resp)
	if started.Status != "loading_first" || started.Loaded != 0 {
		t.Fatalf("expected a reset feed, got status=%s loaded=%d", started.Status, started.Loaded)
	}

	feed := waitFeed(t, s.ID, "exhausted")
	if feed.Loaded != 8 {
		t.Fatalf("expected 8 televisions, got %d", feed.Loaded)
	}
	for _, p := range feed.Items {
		if p.Category != "televisions" {
			t.Fatalf("unexpected category %q", p.Category)
		}
	}

	sorted := getFeed(t, s.ID, "?sort=price_asc&view=list")
	if sorted.View != "list" || sorted.Sort != "price_asc" {
		t.Fatalf("unexpected display %s/%s", sorted.Sort, sorted.View)
	}
	for i := 1; i < len(sorted.Items); i++ {
		if priceLess(sorted.Items[i].Price, sorted.Items[i-1].Price) {
			t.Fatalf("items not sorted by price: %s before %s", sorted.Items[i-1].Price, sorted.Items[i].Price)
		}
	}

	bad := doGet(t, "/api/sessions/"+s.ID+"/feed?min_price=9&max_price=1")
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}
}

func TestSession_Suggestions(t *testing.T) {
	s := createSession(t)

	resp := do(t, http.MethodPost, "/api/sessions/"+s.ID+"/query", map[string]string{"text": "tele"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var set suggestionSetResponse
	eventually(t, "suggestions for tele", func() bool {
		resp := doGet(t, "/api/sessions/"+s.ID+"/suggestions")
		defer resp.Body.Close()
		set = decodeJSON[suggestionSetResponse](t, resp)
		return set.Query == "tele" && len(set.Products) > 0
	})

	if set.Products[0].Name != "Television Stand" || set.Products[0].Price == nil {
		t.Errorf("unexpected product suggestion %+v", set.Products[0])
	}
	if len(set.Shops) != 1 || set.Shops[0].Slug != "telecom-hub" {
		t.Errorf("unexpected shop suggestions %+v", set.Shops)
	}
	if len(set.Categories) != 1 || set.Categories[0].Slug != "televisions" {
		t.Errorf("unexpected category suggestions %+v", set.Categories)
	}

	sel := do(t, http.MethodPost, "/api/sessions/"+s.ID+"/suggestions/select", map[string]string{
		"kind": "shop", "id": set.Shops[0].ID, "slug": set.Shops[0].Slug,
	})
	defer sel.Body.Close()
	if sel.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", sel.StatusCode)
	}
	intent := decodeJSON[map[string]string](t, sel)
	if intent["kind"] != "shop" || intent["slug"] != "telecom-hub" {
		t.Errorf("unexpected intent %v", intent)
	}
}

func TestSession_Stream(t *testing.T) {
	s := createSession(t)

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/sessions/" + s.ID + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "query", "data": "phone"}); err != nil {
		t.Fatalf("write query: %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatal(err)
		}
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if msg.Type != "suggestions" {
			continue
		}
		var set suggestionSetResponse
		if err := json.Unmarshal(msg.Data, &set); err != nil {
			t.Fatalf("decode suggestions: %v", err)
		}
		if set.Query == "phone" && len(set.Categories) == 1 && set.Categories[0].Slug == "phones" {
			return
		}
	}
}

func TestSession_Errors(t *testing.T) {
	resp := doGet(t, "/api/sessions/does-not-exist/feed")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("expected code 404, got %d", body.Code)
	}

	s := createSession(t)
	bad := do(t, http.MethodPost, "/api/sessions/"+s.ID+"/sentinel", map[string]string{"other": "x"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}
}

// priceLess compares the fixed two-decimal price strings numerically.
func priceLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
