package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pgmon/internal/domain"
)

// DBInfoRepository tracks which databases live on each target. The
// topology collector reconciles it against pg_database every cycle; a
// changed OID under the same name means drop-and-recreate.
type DBInfoRepository struct {
	store *Store
}

// Map returns the recorded databases of a server keyed by datname.
func (r *DBInfoRepository) Map(ctx context.Context, serverName string) (map[string]domain.DBInfo, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT server_name, datname, oid, creation_time, first_seen, last_seen
		FROM db_info WHERE server_name = $1
	`, serverName)
	if err != nil {
		return nil, fmt.Errorf("failed to query db_info: %w", err)
	}
	defer rows.Close()

	infos := make(map[string]domain.DBInfo)
	for rows.Next() {
		var info domain.DBInfo
		if err := rows.Scan(
			&info.ServerName, &info.Datname, &info.OID,
			&info.CreationTime, &info.FirstSeen, &info.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan db_info row: %w", err)
		}
		infos[info.Datname] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read db_info: %w", err)
	}
	return infos, nil
}

// Insert records a newly discovered database with first_seen = last_seen =
// now().
func (r *DBInfoRepository) Insert(ctx context.Context, serverName, datname string, oid int64, creationTime *time.Time) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO db_info (server_name, datname, oid, creation_time, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, now(), now())
	`, serverName, datname, oid, creationTime)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: database %s/%s", domain.ErrDuplicate, serverName, datname)
		}
		return fmt.Errorf("failed to insert db_info for %s/%s: %w", serverName, datname, err)
	}
	return nil
}

// TouchLastSeen bumps last_seen for every named database in one statement.
func (r *DBInfoRepository) TouchLastSeen(ctx context.Context, serverName string, datnames []string) error {
	if len(datnames) == 0 {
		return nil
	}
	_, err := r.store.pool.Exec(ctx, `
		UPDATE db_info SET last_seen = now()
		WHERE server_name = $1 AND datname = ANY($2::text[])
	`, serverName, datnames)
	if err != nil {
		return fmt.Errorf("failed to update last_seen for %s: %w", serverName, err)
	}
	return nil
}

// ReplaceRecreated repairs the record of a dropped-and-recreated database:
// its sample history is void, so the statistics rows go and db_info picks
// up the new identity with first_seen reset.
func (r *DBInfoRepository) ReplaceRecreated(ctx context.Context, serverName, datname string, oid int64, creationTime *time.Time) error {
	err := r.store.pool.Execute(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"DELETE FROM statistics WHERE server_name = $1 AND datname = $2",
			serverName, datname,
		); err != nil {
			return fmt.Errorf("failed to delete stale statistics: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE db_info
			SET oid = $1, creation_time = $2, first_seen = now(), last_seen = now()
			WHERE server_name = $3 AND datname = $4
		`, oid, creationTime, serverName, datname); err != nil {
			return fmt.Errorf("failed to update db_info: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace recreated %s/%s: %w", serverName, datname, err)
	}
	return nil
}

// DeleteGone removes a vanished database's samples and record together.
func (r *DBInfoRepository) DeleteGone(ctx context.Context, serverName, datname string) error {
	err := r.store.pool.Execute(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"DELETE FROM statistics WHERE server_name = $1 AND datname = $2",
			serverName, datname,
		); err != nil {
			return fmt.Errorf("failed to delete statistics: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM db_info WHERE server_name = $1 AND datname = $2",
			serverName, datname,
		); err != nil {
			return fmt.Errorf("failed to delete db_info: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete gone %s/%s: %w", serverName, datname, err)
	}
	return nil
}

// NullCreationTimes lists databases still missing a creation time, for the
// topology collector's backfill pass.
func (r *DBInfoRepository) NullCreationTimes(ctx context.Context, serverName string) ([]domain.DBInfo, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT datname, oid FROM db_info
		WHERE server_name = $1 AND creation_time IS NULL
	`, serverName)
	if err != nil {
		return nil, fmt.Errorf("failed to query null creation times: %w", err)
	}
	defer rows.Close()

	var infos []domain.DBInfo
	for rows.Next() {
		info := domain.DBInfo{ServerName: serverName}
		if err := rows.Scan(&info.Datname, &info.OID); err != nil {
			return nil, fmt.Errorf("failed to scan db_info row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read db_info: %w", err)
	}
	return infos, nil
}

// SetCreationTime backfills a creation time resolved after the fact.
func (r *DBInfoRepository) SetCreationTime(ctx context.Context, serverName, datname string, creationTime time.Time) error {
	_, err := r.store.pool.Exec(ctx, `
		UPDATE db_info SET creation_time = $1
		WHERE server_name = $2 AND datname = $3
	`, creationTime, serverName, datname)
	if err != nil {
		return fmt.Errorf("failed to set creation time for %s/%s: %w", serverName, datname, err)
	}
	return nil
}
