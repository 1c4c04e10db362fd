package index

import (
	"context"
	"time"
)

// ListEntries returns every stored entry ordered by local path
func (d *DB) ListEntries(ctx context.Context) (entries []LocalEntry, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT remote_id, local_path, fingerprint, size, last_sync
		FROM sync_entries ORDER BY local_path
	`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ApplyChanges deletes the removed IDs and rewrites the upserted entries
// in a single transaction. Rows being rewritten are deleted first so that
// entries swapping paths do not trip the local_path constraint.
func (d *DB) ApplyChanges(ctx context.Context, upserts []LocalEntry, removed []string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	del, err := tx.PrepareContext(ctx, `DELETE FROM sync_entries WHERE remote_id = ?`)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := del.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	for _, id := range removed {
		if _, err = del.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	for _, entry := range upserts {
		if _, err = del.ExecContext(ctx, entry.RemoteID); err != nil {
			return err
		}
	}

	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_entries (remote_id, local_path, fingerprint, size, last_sync)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := ins.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	for _, entry := range upserts {
		if _, err = ins.ExecContext(ctx, entry.RemoteID, entry.LocalPath, entry.Fingerprint, entry.Size, entry.LastSync.UnixNano()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteEntries removes every entry
func (d *DB) DeleteEntries(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sync_entries`)
	return err
}

func scanEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (LocalEntry, error) {
	var entry LocalEntry
	var lastSync int64
	err := scanner.Scan(&entry.RemoteID, &entry.LocalPath, &entry.Fingerprint, &entry.Size, &lastSync)
	if err != nil {
		return LocalEntry{}, err
	}
	if lastSync != 0 {
		entry.LastSync = time.Unix(0, lastSync).UTC()
	}
	return entry, nil
}
