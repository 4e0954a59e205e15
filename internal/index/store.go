package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultPath returns where an archive's index lives on disk.
func DefaultPath(archivePath string) string {
	return archivePath + ".idx"
}

const schema = `
CREATE TABLE index_meta (
	source              TEXT NOT NULL,
	checkpoint_interval INTEGER NOT NULL,
	built_at            TEXT NOT NULL
);
CREATE TABLE matches (
	match_idx   INTEGER PRIMARY KEY,
	byte_offset INTEGER NOT NULL,
	match_id    TEXT NOT NULL,
	events      INTEGER NOT NULL,
	t_min       REAL NOT NULL,
	t_max       REAL NOT NULL
);
CREATE TABLE checkpoints (
	match_idx INTEGER NOT NULL,
	event_idx INTEGER NOT NULL,
	time      REAL NOT NULL,
	snapshot  BLOB NOT NULL,
	PRIMARY KEY (match_idx, event_idx)
);
CREATE TABLE segments (
	match_idx   INTEGER NOT NULL,
	start_event INTEGER NOT NULL,
	end_event   INTEGER NOT NULL,
	t_min       REAL NOT NULL,
	t_max       REAL NOT NULL,
	kinds       TEXT NOT NULL,
	entities    TEXT NOT NULL,
	PRIMARY KEY (match_idx, start_event)
);
`

// Save persists a built index as a SQLite file next to the archive. It
// writes to a temp file and renames into place, so a concurrent reader
// never sees a half-written index.
func Save(ix *Index, path string) error {
	if !ix.built {
		return ErrIndexNotBuilt
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	if err := writeStore(ix, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install index: %w", err)
	}
	return nil
}

func writeStore(ix *Index, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("create index store: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create index schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin index write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO index_meta (source, checkpoint_interval, built_at) VALUES (?, ?, ?)`,
		ix.Source, ix.CheckpointInterval, ix.BuiltAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write index meta: %w", err)
	}

	for i, m := range ix.Matches {
		_, err = tx.Exec(`INSERT INTO matches (match_idx, byte_offset, match_id, events, t_min, t_max) VALUES (?, ?, ?, ?, ?, ?)`,
			i, m.ByteOffset, m.MatchID, m.Events, m.TimeMin, m.TimeMax)
		if err != nil {
			return fmt.Errorf("write match row %d: %w", i, err)
		}
	}

	for _, cp := range ix.Checkpoints {
		_, err = tx.Exec(`INSERT INTO checkpoints (match_idx, event_idx, time, snapshot) VALUES (?, ?, ?, ?)`,
			cp.Match, cp.Event, cp.Time, cp.Snapshot)
		if err != nil {
			return fmt.Errorf("write checkpoint %d/%d: %w", cp.Match, cp.Event, err)
		}
	}

	for _, seg := range ix.Segments {
		kinds, err := json.Marshal(seg.Kinds)
		if err != nil {
			return fmt.Errorf("encode segment kinds: %w", err)
		}
		entities, err := json.Marshal(seg.Entities)
		if err != nil {
			return fmt.Errorf("encode segment entities: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO segments (match_idx, start_event, end_event, t_min, t_max, kinds, entities) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			seg.Match, seg.StartEvent, seg.EndEvent, seg.TimeMin, seg.TimeMax, string(kinds), string(entities))
		if err != nil {
			return fmt.Errorf("write segment %d/%d: %w", seg.Match, seg.StartEvent, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index write: %w", err)
	}
	return nil
}

// Load reads a previously saved index. Only complete indexes are ever
// renamed into place, so a loaded index is always query-ready.
func Load(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	defer db.Close()

	ix := &Index{}
	var builtAt string
	err = db.QueryRow(`SELECT source, checkpoint_interval, built_at FROM index_meta`).
		Scan(&ix.Source, &ix.CheckpointInterval, &builtAt)
	if err != nil {
		return nil, fmt.Errorf("read index meta: %w", err)
	}
	if ix.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
		return nil, fmt.Errorf("parse index build time: %w", err)
	}

	rows, err := db.Query(`SELECT byte_offset, match_id, events, t_min, t_max FROM matches ORDER BY match_idx`)
	if err != nil {
		return nil, fmt.Errorf("read match rows: %w", err)
	}
	for rows.Next() {
		var m MatchInfo
		if err := rows.Scan(&m.ByteOffset, &m.MatchID, &m.Events, &m.TimeMin, &m.TimeMax); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		ix.Matches = append(ix.Matches, m)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("read match rows: %w", err)
	}

	rows, err = db.Query(`SELECT match_idx, event_idx, time, snapshot FROM checkpoints ORDER BY match_idx, event_idx`)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint rows: %w", err)
	}
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.Match, &cp.Event, &cp.Time, &cp.Snapshot); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		ix.Checkpoints = append(ix.Checkpoints, cp)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("read checkpoint rows: %w", err)
	}

	rows, err = db.Query(`SELECT match_idx, start_event, end_event, t_min, t_max, kinds, entities FROM segments ORDER BY match_idx, start_event`)
	if err != nil {
		return nil, fmt.Errorf("read segment rows: %w", err)
	}
	for rows.Next() {
		var seg Segment
		var kinds, entities string
		if err := rows.Scan(&seg.Match, &seg.StartEvent, &seg.EndEvent, &seg.TimeMin, &seg.TimeMax, &kinds, &entities); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan segment row: %w", err)
		}
		if err := json.Unmarshal([]byte(kinds), &seg.Kinds); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode segment kinds: %w", err)
		}
		if err := json.Unmarshal([]byte(entities), &seg.Entities); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode segment entities: %w", err)
		}
		ix.Segments = append(ix.Segments, seg)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("read segment rows: %w", err)
	}

	ix.built = true
	return ix, nil
}
