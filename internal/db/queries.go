package db

import (
	"context"
	"encoding/json"

	"replay-gym/internal/meta"
)

// InsertGame inserts a game metadata row if it doesn't exist
func (db *DB) InsertGame(ctx context.Context, m *meta.GameMetadata) error {
	champions, err := json.Marshal(m.Champions)
	if err != nil {
		return err
	}
	eventTypes, err := json.Marshal(m.EventTypes)
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO games (
			file_path, game_index, patch, match_id, duration_seconds, packet_count,
			champions, champion_count, total_deaths, total_spells_cast,
			total_basic_attacks, total_items_bought, total_damage_events,
			event_types, has_full_draft, has_movement_data, has_combat_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (file_path, game_index) DO NOTHING
	`, m.FilePath, m.GameIndex, m.Patch, m.MatchID, m.DurationSeconds, m.PacketCount,
		champions, m.ChampionCount, m.TotalDeaths, m.TotalSpellsCast,
		m.TotalBasicAttacks, m.TotalItemsBought, m.TotalDamageEvents,
		eventTypes, m.HasFullDraft, m.HasMovementData, m.HasCombatData)
	return err
}

// GameExists checks if a game row already exists
func (db *DB) GameExists(ctx context.Context, filePath string, gameIndex int) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM games WHERE file_path = $1 AND game_index = $2)
	`, filePath, gameIndex).Scan(&exists)
	return exists, err
}

// GetGameCount returns the total number of game rows
func (db *DB) GetGameCount(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM games`).Scan(&count)
	return count, err
}

// GetPatchCounts returns game counts grouped by patch
func (db *DB) GetPatchCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT patch, COUNT(*) FROM games GROUP BY patch`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var patch string
		var n int
		if err := rows.Scan(&patch, &n); err != nil {
			return nil, err
		}
		counts[patch] = n
	}
	return counts, rows.Err()
}
