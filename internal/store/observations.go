package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Every upsert only overwrites a row with data at least as new as what it
// holds, so replays and out-of-order writers leave the table unchanged.
const (
	upsertSpawn = `
		INSERT INTO spawns (encounter_id, spawnpoint_id, pokemon_id, form, latitude, longitude, disappear_time,
		                    individual_attack, individual_defense, individual_stamina, move_1, move_2,
		                    cp, cp_multiplier, height, weight, gender, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (encounter_id) DO UPDATE SET
			pokemon_id = EXCLUDED.pokemon_id,
			form = EXCLUDED.form,
			disappear_time = EXCLUDED.disappear_time,
			individual_attack = COALESCE(EXCLUDED.individual_attack, spawns.individual_attack),
			individual_defense = COALESCE(EXCLUDED.individual_defense, spawns.individual_defense),
			individual_stamina = COALESCE(EXCLUDED.individual_stamina, spawns.individual_stamina),
			move_1 = COALESCE(EXCLUDED.move_1, spawns.move_1),
			move_2 = COALESCE(EXCLUDED.move_2, spawns.move_2),
			cp = COALESCE(EXCLUDED.cp, spawns.cp),
			cp_multiplier = COALESCE(EXCLUDED.cp_multiplier, spawns.cp_multiplier),
			height = COALESCE(EXCLUDED.height, spawns.height),
			weight = COALESCE(EXCLUDED.weight, spawns.weight),
			gender = COALESCE(EXCLUDED.gender, spawns.gender),
			last_modified = EXCLUDED.last_modified
		WHERE spawns.last_modified <= EXCLUDED.last_modified`

	upsertStop = `
		INSERT INTO stops (id, latitude, longitude, enabled, lure_expiration, active_fort_modifier, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			lure_expiration = EXCLUDED.lure_expiration,
			active_fort_modifier = EXCLUDED.active_fort_modifier,
			last_modified = EXCLUDED.last_modified,
			last_updated = NOW()
		WHERE stops.last_modified <= EXCLUDED.last_modified`

	upsertArena = `
		INSERT INTO arenas (id, team_id, guard_pokemon_id, slots_available, enabled, latitude, longitude, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			team_id = EXCLUDED.team_id,
			guard_pokemon_id = EXCLUDED.guard_pokemon_id,
			slots_available = EXCLUDED.slots_available,
			enabled = EXCLUDED.enabled,
			last_modified = EXCLUDED.last_modified,
			last_scanned = NOW()
		WHERE arenas.last_modified <= EXCLUDED.last_modified`

	upsertArenaDetail = `
		INSERT INTO arena_details (arena_id, name, description, url, defenders, last_scanned)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (arena_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			defenders = EXCLUDED.defenders,
			last_scanned = EXCLUDED.last_scanned
		WHERE arena_details.last_scanned <= EXCLUDED.last_scanned`

	upsertRaid = `
		INSERT INTO raids (arena_id, level, pokemon_id, cp, move_1, move_2, spawn, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (arena_id) DO UPDATE SET
			level = EXCLUDED.level,
			pokemon_id = COALESCE(EXCLUDED.pokemon_id, raids.pokemon_id),
			cp = COALESCE(EXCLUDED.cp, raids.cp),
			move_1 = COALESCE(EXCLUDED.move_1, raids.move_1),
			move_2 = COALESCE(EXCLUDED.move_2, raids.move_2),
			spawn = EXCLUDED.spawn,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time
		WHERE raids.spawn <= EXCLUDED.spawn`

	upsertSpawnpoint = `
		INSERT INTO spawnpoints (id, latitude, longitude, despawn_sec)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			despawn_sec = EXCLUDED.despawn_sec,
			last_seen = NOW()`

	upsertLocation = `
		INSERT INTO scanned_locations (cell_id, latitude, longitude, last_modified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cell_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			last_modified = EXCLUDED.last_modified
		WHERE scanned_locations.last_modified <= EXCLUDED.last_modified`
)

// WriteBatch upserts every observation in b in a single round trip.
func (db *DB) WriteBatch(ctx context.Context, b Batch) error {
	pb, err := queueBatch(b)
	if err != nil {
		return err
	}
	if pb.Len() == 0 {
		return nil
	}
	if err := db.Pool.SendBatch(ctx, pb).Close(); err != nil {
		return fmt.Errorf("failed to upsert observations: %w", err)
	}
	return nil
}

// queueBatch builds the statements for b. Arenas are queued before their
// details and raids.
func queueBatch(b Batch) (*pgx.Batch, error) {
	pb := &pgx.Batch{}
	for _, sp := range b.Spawnpoints {
		pb.Queue(upsertSpawnpoint, sp.ID, sp.Latitude, sp.Longitude, sp.DespawnSec)
	}
	for _, s := range b.Spawns {
		args := []any{s.EncounterID, s.SpawnpointID, s.PokemonID, s.Form, s.Latitude, s.Longitude, s.DisappearTime}
		args = append(args, encounterArgs(s.Encounter)...)
		args = append(args, s.LastModified)
		pb.Queue(upsertSpawn, args...)
	}
	for _, s := range b.Stops {
		pb.Queue(upsertStop, s.ID, s.Latitude, s.Longitude, s.Enabled, s.LureExpiration,
			nullString(s.ActiveFortModifier), s.LastModified)
	}
	for _, a := range b.Arenas {
		pb.Queue(upsertArena, a.ID, a.Team, a.GuardPokemonID, a.SlotsAvailable, a.Enabled,
			a.Latitude, a.Longitude, a.LastModified)
	}
	for _, d := range b.ArenaDetails {
		defenders := d.Defenders
		if defenders == nil {
			defenders = []Defender{}
		}
		raw, err := json.Marshal(defenders)
		if err != nil {
			return nil, fmt.Errorf("failed to encode defenders of %s: %w", d.ArenaID, err)
		}
		pb.Queue(upsertArenaDetail, d.ArenaID, d.Name, d.Description, d.URL, raw, d.LastScanned)
	}
	for _, r := range b.Raids {
		pb.Queue(upsertRaid, r.ArenaID, r.Level, nullInt(r.PokemonID), nullInt(r.CP),
			nullInt(r.Move1), nullInt(r.Move2), r.Spawn, r.Start, r.End)
	}
	for _, l := range b.Locations {
		pb.Queue(upsertLocation, l.CellID, l.Latitude, l.Longitude, l.LastModified)
	}
	return pb, nil
}

func encounterArgs(e *Encounter) []any {
	if e == nil {
		return []any{nil, nil, nil, nil, nil, nil, nil, nil, nil, nil}
	}
	return []any{e.Attack, e.Defense, e.Stamina, e.Move1, e.Move2, e.CP, e.CPMultiplier, e.Height, e.Weight, e.Gender}
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
