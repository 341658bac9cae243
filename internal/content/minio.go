package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

const (
	manifestPrefix  = "titles/"
	maxManifestSize = 64 << 10
)

// Manifest is the JSON document stored for each title under titles/{id}.json.
// Keys point at objects in the same bucket; an explicit URL wins over a key.
type Manifest struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	VideoKey  string `json:"video_key,omitempty"`
	VideoURL  string `json:"video_url,omitempty"`
	PosterKey string `json:"poster_key,omitempty"`
	PosterURL string `json:"poster_url,omitempty"`
}

type MinIOSource struct {
	client     *minio.Client
	bucketName string
	presignTTL time.Duration
	log        *slog.Logger
}

func NewMinIOSource(client *minio.Client, bucketName string, presignTTL time.Duration, log *slog.Logger) *MinIOSource {
	if presignTTL <= 0 {
		presignTTL = 6 * time.Hour
	}
	return &MinIOSource{
		client:     client,
		bucketName: bucketName,
		presignTTL: presignTTL,
		log:        log,
	}
}

// validID accepts ids that map to exactly one object under titles/
func validID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

func manifestKey(id string) string {
	return manifestPrefix + id + ".json"
}

// List returns every title with a readable manifest. Broken manifests are
// logged and skipped.
func (m *MinIOSource) List(ctx context.Context) ([]Title, error) {
	var titles []Title

	objects := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    manifestPrefix,
		Recursive: true,
	})

	for obj := range objects {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list titles: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}

		t, err := m.load(ctx, obj.Key)
		if err != nil {
			m.log.Warn("skipping unreadable title manifest",
				"key", obj.Key,
				"error", err,
			)
			continue
		}
		titles = append(titles, t)
	}

	sortTitles(titles)
	return titles, nil
}

// Get returns the title with the given id
func (m *MinIOSource) Get(ctx context.Context, id string) (Title, error) {
	if !validID(id) {
		return Title{}, ErrTitleNotFound
	}
	return m.load(ctx, manifestKey(id))
}

// Put stores a manifest for a title
func (m *MinIOSource) Put(ctx context.Context, manifest Manifest) error {
	if !validID(manifest.ID) {
		return fmt.Errorf("invalid title id %q", manifest.ID)
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}

	_, err = m.client.PutObject(
		ctx,
		m.bucketName,
		manifestKey(manifest.ID),
		strings.NewReader(string(data)),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}

	return nil
}

func (m *MinIOSource) load(ctx context.Context, key string) (Title, error) {
	object, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return Title{}, m.mapError(err)
	}
	defer object.Close()

	data, err := io.ReadAll(io.LimitReader(object, maxManifestSize))
	if err != nil {
		return Title{}, m.mapError(err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Title{}, fmt.Errorf("failed to decode manifest %s: %w", key, err)
	}
	if manifest.ID == "" {
		manifest.ID = strings.TrimSuffix(path.Base(key), ".json")
	}

	return m.resolve(ctx, manifest)
}

// resolve turns object keys into presigned URLs
func (m *MinIOSource) resolve(ctx context.Context, manifest Manifest) (Title, error) {
	t := Title{
		ID:          manifest.ID,
		Title:       manifest.Title,
		PlayableURL: manifest.VideoURL,
		PosterURL:   manifest.PosterURL,
	}

	if t.PlayableURL == "" && manifest.VideoKey != "" {
		u, err := m.presign(ctx, manifest.VideoKey)
		if err != nil {
			return Title{}, err
		}
		t.PlayableURL = u
	}
	if t.PlayableURL == "" {
		return Title{}, fmt.Errorf("title %s has no video", manifest.ID)
	}

	if t.PosterURL == "" && manifest.PosterKey != "" {
		u, err := m.presign(ctx, manifest.PosterKey)
		if err != nil {
			return Title{}, err
		}
		t.PosterURL = u
	}

	return t, nil
}

func (m *MinIOSource) presign(ctx context.Context, key string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucketName, key, m.presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}

func (m *MinIOSource) mapError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrTitleNotFound
	}
	return fmt.Errorf("failed to get object: %w", err)
}
