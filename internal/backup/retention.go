package backup

import (
	"context"
	"log"
	"sort"
)

// Pruner is notified of archives removed from the local backup directory
type Pruner interface {
	MarkBackupPruned(filename string) error
}

// RetentionPolicy keeps the newest Count archives of one world
type RetentionPolicy struct {
	World string
	Count int // Number of archives to keep (0 = keep all)
}

// Expired returns the archive names beyond the policy, oldest first. Names
// embed a sortable timestamp, so lexical order is chronological.
func (p RetentionPolicy) Expired(files []BackupFile) []string {
	if p.Count <= 0 {
		return nil
	}

	var names []string
	for _, f := range files {
		if IsArchiveName(p.World, f.Filename) {
			names = append(names, f.Filename)
		}
	}
	if len(names) <= p.Count {
		return nil
	}

	sort.Strings(names)
	return names[:len(names)-p.Count]
}

// EnforceRetention deletes expired archives from dest and returns the names
// removed. Individual delete failures are logged and skipped.
func EnforceRetention(ctx context.Context, dest Destination, policy RetentionPolicy) ([]string, error) {
	files, err := dest.List(ctx)
	if err != nil {
		return nil, err
	}

	expired := policy.Expired(files)
	if len(expired) == 0 {
		return nil, nil
	}

	var deleted []string
	for _, name := range expired {
		if err := dest.Delete(ctx, name); err != nil {
			log.Printf("[Retention] Error deleting %s from %s: %v", name, dest.GetType(), err)
			continue
		}
		log.Printf("[Retention] Old backup deleted from %s: %s", dest.GetType(), name)
		deleted = append(deleted, name)
	}

	return deleted, nil
}
