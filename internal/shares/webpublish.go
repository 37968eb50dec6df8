package shares

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/relay-onprem/control-plane/internal/config"
)

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
var slugCollapseDashes = regexp.MustCompile(`-{2,}`)

// Slugify lowercases, replaces runs of non [a-z0-9-] characters with a
// single dash, and trims leading/trailing dashes.
func Slugify(s string) string {
	lower := strings.ToLower(s)
	replaced := slugInvalidChars.ReplaceAllString(lower, "-")
	collapsed := slugCollapseDashes.ReplaceAllString(replaced, "-")
	return strings.Trim(collapsed, "-")
}

// IsSlugAvailable reports whether slug is free for use, optionally
// excluding a share (used when a share keeps its own slug on update).
func (s *Store) IsSlugAvailable(ctx context.Context, slug, excludeShareID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM shares WHERE web_slug = ? AND id != ?)`,
		slug, excludeShareID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking slug availability: %w", err)
	}
	return !exists, nil
}

// GenerateUniqueSlug derives a slug from path, appending a short random
// suffix on collision until one is free.
func (s *Store) GenerateUniqueSlug(ctx context.Context, path, excludeShareID string) (string, error) {
	base := Slugify(path)
	if base == "" {
		base = "share"
	}

	candidate := base
	for attempt := 0; attempt < 20; attempt++ {
		available, err := s.IsSlugAvailable(ctx, candidate, excludeShareID)
		if err != nil {
			return "", err
		}
		if available {
			return candidate, nil
		}
		suffix, err := randomSlugSuffix()
		if err != nil {
			return "", err
		}
		candidate = base + "-" + suffix
	}
	return "", fmt.Errorf("could not find an available slug for %q", path)
}

func randomSlugSuffix() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SetWebPublished enables or disables web publishing for a share,
// assigning a slug (custom or auto-generated) the first time it's
// enabled; disabling keeps the slug so re-enabling doesn't change the
// public URL.
func (s *Store) SetWebPublished(ctx context.Context, shareID string, published bool, customSlug string) (*Share, error) {
	share, err := s.GetByID(ctx, shareID)
	if err != nil {
		return nil, err
	}

	slug := share.WebSlug
	if published && slug == "" {
		if customSlug != "" {
			candidate := Slugify(customSlug)
			available, err := s.IsSlugAvailable(ctx, candidate, shareID)
			if err != nil {
				return nil, err
			}
			if !available {
				return nil, ErrSlugTaken
			}
			slug = candidate
		} else {
			slug, err = s.GenerateUniqueSlug(ctx, share.Path, shareID)
			if err != nil {
				return nil, err
			}
		}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE shares SET web_published = ?, web_slug = ?, updated_at = ? WHERE id = ?`,
		published, slug, time.Now().UTC().Format(time.RFC3339), shareID)
	if err != nil {
		return nil, fmt.Errorf("updating web publish state: %w", err)
	}
	return s.GetByID(ctx, shareID)
}

// SetWebContent caches the rendered body for a published doc share (an
// opportunistic cache, never the canonical content store — see Non-goals).
func (s *Store) SetWebContent(ctx context.Context, shareID string, content []byte) error {
	var updatedAt any
	if content != nil {
		updatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE shares SET web_content = ?, updated_at = COALESCE(?, updated_at) WHERE id = ?`,
		content, updatedAt, shareID)
	if err != nil {
		return fmt.Errorf("caching web content: %w", err)
	}
	return nil
}

// WebURL computes the public URL for a published share, or "" if web
// publishing is disabled globally or for this share.
func WebURL(cfg config.WebConfig, share *Share) string {
	if !cfg.Enabled || !share.WebPublished || share.WebSlug == "" || cfg.Domain == "" {
		return ""
	}
	domain := cfg.Domain
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return strings.TrimRight(domain, "/") + "/" + share.WebSlug
}
