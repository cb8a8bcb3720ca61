// Package photo supplies external image candidates for posts and avatars.
package photo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/model"
)

// Provider fetches random photos for a search query.
type Provider interface {
	FetchRandomPhotos(ctx context.Context, count int, query string) ([]model.Photo, error)
}

const (
	defaultCount = 9
	defaultQuery = "pet"

	unsplashAPI = "https://api.unsplash.com"
)

// Unsplash is an Unsplash-backed Provider. When constructed without an access
// key it degrades to deterministic placeholder photos instead of failing.
type Unsplash struct {
	accessKey string
	baseURL   string
	hc        *http.Client
}

// NewUnsplash constructs a provider. An empty accessKey enables the
// placeholder fallback.
func NewUnsplash(accessKey string) *Unsplash {
	return &Unsplash{
		accessKey: accessKey,
		baseURL:   unsplashAPI,
		hc:        &http.Client{Timeout: 10 * time.Second},
	}
}

type unsplashPhoto struct {
	ID   string `json:"id"`
	URLs struct {
		Regular string `json:"regular"`
		Thumb   string `json:"thumb"`
	} `json:"urls"`
	User struct {
		Name string `json:"name"`
	} `json:"user"`
}

// FetchRandomPhotos returns count random photos matching query.
func (u *Unsplash) FetchRandomPhotos(ctx context.Context, count int, query string) ([]model.Photo, error) {
	if count <= 0 {
		count = defaultCount
	}
	if query == "" {
		query = defaultQuery
	}
	if u.accessKey == "" {
		return Placeholders(count, query), nil
	}

	reqURL := fmt.Sprintf("%s/photos/random?count=%d&query=%s", u.baseURL, count, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Client-ID "+u.accessKey)

	resp, err := u.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch photos: %w: %w", errs.ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch photos: status %d: %w", resp.StatusCode, errs.ErrFetch)
	}

	var raw []unsplashPhoto
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("fetch photos: decode: %w: %w", errs.ErrFetch, err)
	}
	out := make([]model.Photo, 0, len(raw))
	for _, p := range raw {
		out = append(out, model.Photo{
			ID:         p.ID,
			RegularURL: p.URLs.Regular,
			ThumbURL:   p.URLs.Thumb,
			Credit:     p.User.Name,
		})
	}
	return out, nil
}

// Placeholders generates deterministic placeholder photos: the same
// (count, query) pair always yields the same set.
func Placeholders(count int, query string) []model.Photo {
	out := make([]model.Photo, count)
	for i := range out {
		seed := fmt.Sprintf("%s-%d", url.PathEscape(query), i)
		out[i] = model.Photo{
			ID:         "placeholder-" + seed,
			RegularURL: fmt.Sprintf("https://picsum.photos/seed/%s/600/600", seed),
			ThumbURL:   fmt.Sprintf("https://picsum.photos/seed/%s/300/300", seed),
			Credit:     "Picsum",
		}
	}
	return out
}
