package content

import (
	"context"
	"errors"
	"slices"
	"strings"
)

var ErrTitleNotFound = errors.New("title not found")

// Title is a playable item the controller can feed into SetVideo
type Title struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	PlayableURL string `json:"playable_url"`
	PosterURL   string `json:"poster_url,omitempty"`
}

// Source supplies titles. The session engine never validates or fetches them.
type Source interface {
	List(ctx context.Context) ([]Title, error)
	Get(ctx context.Context, id string) (Title, error)
}

// StaticSource serves a fixed list of titles
type StaticSource struct {
	titles []Title
}

func NewStaticSource(titles ...Title) *StaticSource {
	sorted := slices.Clone(titles)
	sortTitles(sorted)
	return &StaticSource{titles: sorted}
}

func (s *StaticSource) List(ctx context.Context) ([]Title, error) {
	return slices.Clone(s.titles), nil
}

func (s *StaticSource) Get(ctx context.Context, id string) (Title, error) {
	for _, t := range s.titles {
		if t.ID == id {
			return t, nil
		}
	}
	return Title{}, ErrTitleNotFound
}

func sortTitles(titles []Title) {
	slices.SortFunc(titles, func(a, b Title) int {
		if c := strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
