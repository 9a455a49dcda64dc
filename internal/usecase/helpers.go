package usecase

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/semmidev/davkeep/internal/domain"
)

const archiveTimeLayout = "20060102150405"

// archiveSuffix renders now, shifted by offset, as YYYYMMDDHHmmss.
func archiveSuffix(now time.Time, offset time.Duration) string {
	return now.UTC().Add(offset).Format(archiveTimeLayout)
}

// archiveCandidate returns the archive name for the n-th attempt. Attempt 0
// is the plain suffix; later attempts get a counter so same-second rotations
// do not collide.
func archiveCandidate(remotePath, suffix string, attempt int) string {
	if attempt == 0 {
		return remotePath + "." + suffix
	}
	return fmt.Sprintf("%s.%s-%d", remotePath, suffix, attempt)
}

func joinRemote(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func validateBaseFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// backupVariants keeps the file entries named after baseFilename, oldest first.
// Entries without a timestamp compare equal to everything, so the sort keeps
// their listing order.
func backupVariants(entries []domain.FileStat, baseFilename string) []domain.FileStat {
	variants := make([]domain.FileStat, 0, len(entries))
	for _, entry := range entries {
		if entry.IsFile() && strings.HasPrefix(entry.Basename, baseFilename) {
			variants = append(variants, entry)
		}
	}

	slices.SortStableFunc(variants, func(a, b domain.FileStat) int {
		if a.LastModified.IsZero() || b.LastModified.IsZero() {
			return 0
		}
		return a.LastModified.Compare(b.LastModified)
	})

	return variants
}

// excess returns the oldest entries beyond the retention limit.
func excess(variants []domain.FileStat, retention int) []domain.FileStat {
	if len(variants) <= retention {
		return nil
	}
	return variants[:len(variants)-retention]
}
