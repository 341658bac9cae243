package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticSource(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource(
		Title{ID: "b", Title: "zodiac", PlayableURL: "https://cdn.example/b.mp4"},
		Title{ID: "a", Title: "Alien", PlayableURL: "https://cdn.example/a.mp4"},
	)

	titles, err := src.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(titles) != 2 || titles[0].ID != "a" || titles[1].ID != "b" {
		t.Fatalf("titles = %+v, want case-insensitive title order", titles)
	}

	got, err := src.Get(ctx, "b")
	if err != nil || got.Title != "zodiac" {
		t.Fatalf("Get(b) = %+v, %v", got, err)
	}
	if _, err := src.Get(ctx, "missing"); !errors.Is(err, ErrTitleNotFound) {
		t.Fatalf("Get(missing): err = %v", err)
	}
}

func TestMinIOSourceRejectsPathIDs(t *testing.T) {
	src := NewMinIOSource(nil, "bucket", 0, nil)
	for _, id := range []string{"", "../secret", "a/b", `a\b`, "."} {
		if _, err := src.Get(context.Background(), id); !errors.Is(err, ErrTitleNotFound) {
			t.Errorf("Get(%q): err = %v, want ErrTitleNotFound", id, err)
		}
	}
}

func TestHTTPSource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/titles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"titles":[{"id":"notld","title":"Night of the Living Dead","playable_url":"https://cdn.example/notld.mp4"}],"count":1}`))
	})
	mux.HandleFunc("GET /api/titles/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "notld" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":"notld","title":"Night of the Living Dead","playable_url":"https://cdn.example/notld.mp4"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", nil)
	ctx := context.Background()

	titles, err := src.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(titles) != 1 || titles[0].PlayableURL != "https://cdn.example/notld.mp4" {
		t.Fatalf("titles = %+v", titles)
	}

	got, err := src.Get(ctx, "notld")
	if err != nil || got.Title != "Night of the Living Dead" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := src.Get(ctx, "missing"); !errors.Is(err, ErrTitleNotFound) {
		t.Fatalf("missing title: err = %v", err)
	}
}
