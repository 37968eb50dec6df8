package shares

import (
	"context"
	"fmt"
	"strings"

	"github.com/relay-onprem/control-plane/internal/authz"
)

// FindShareForPath resolves filePath to the most-specific share the
// principal may read: an exact kind=doc match takes precedence; failing
// that, the longest-prefix kind=folder match the caller can read wins.
// Returns (nil, nil) when nothing matches or the caller lacks access.
func (s *Store) FindShareForPath(ctx context.Context, principal *authz.Principal, filePath string, verify authz.PasswordVerifier) (*Share, error) {
	normalized := strings.Trim(filePath, "/")

	docShare, err := s.getDocShareByExactPath(ctx, normalized)
	if err != nil && err != ErrShareNotFound {
		return nil, err
	}
	if docShare != nil {
		allowed, err := s.canRead(ctx, principal, docShare, "", verify)
		if err != nil {
			return nil, err
		}
		if allowed {
			return docShare, nil
		}
	}

	folders, err := s.listFolderShares(ctx)
	if err != nil {
		return nil, err
	}

	var best *Share
	for _, folder := range folders {
		if !isWithinFolder(folder.Path, normalized) {
			continue
		}
		allowed, err := s.canRead(ctx, principal, folder, "", verify)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}
		if best == nil || len(strings.Trim(folder.Path, "/")) > len(strings.Trim(best.Path, "/")) {
			best = folder
		}
	}
	return best, nil
}

func (s *Store) canRead(ctx context.Context, principal *authz.Principal, share *Share, password string, verify authz.PasswordVerifier) (bool, error) {
	var member *authz.Membership
	if principal != nil {
		m, err := s.GetMember(ctx, share.ID, principal.ID)
		if err != nil && err != ErrMemberNotFound {
			return false, err
		}
		if m != nil {
			member = &authz.Membership{Role: m.Role}
		}
	}
	return authz.Authorize(principal, authz.Share{
		OwnerUserID:  share.OwnerUserID,
		Visibility:   share.Visibility,
		PasswordHash: share.PasswordHash,
	}, authz.ActionRead, member, password, verify), nil
}

func (s *Store) getDocShareByExactPath(ctx context.Context, path string) (*Share, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE kind = 'doc' AND path = ?`, path)
	return scanShare(row)
}

func (s *Store) listFolderShares(ctx context.Context) ([]*Share, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE kind = 'folder'`)
	if err != nil {
		return nil, fmt.Errorf("listing folder shares: %w", err)
	}
	defer rows.Close()

	var folders []*Share
	for rows.Next() {
		folder, err := scanShareFromRows(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}
	return folders, rows.Err()
}
