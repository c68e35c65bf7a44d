package scanner

import (
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/locplace/mapscan/internal/cluster"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/planner"
	"github.com/locplace/mapscan/internal/rpc"
	"github.com/locplace/mapscan/internal/store"
	"github.com/locplace/mapscan/internal/webhook"
)

// DefaultSpawnLifetime is assumed when the remote service reports no usable
// time till hidden.
const DefaultSpawnLifetime = 15 * time.Minute

// maxTimeTillHidden bounds plausible time till hidden values.
const maxTimeTillHidden = 3_600_000

// Event is a webhook message produced by a scan.
type Event struct {
	Kind    webhook.Kind
	Payload map[string]any
}

// Parsed is everything one map response produced.
type Parsed struct {
	Batch  store.Batch
	Events []Event
	// Arenas are all arenas in the response, changed or not.
	Arenas []rpc.Fort
	// Seen counts spawns and forts in the response, including known ones.
	Seen int
}

// PokemonFilter is a whitelist / blacklist pair. A non-empty whitelist wins.
type PokemonFilter struct {
	Whitelist []int
	Blacklist []int
}

// Allows reports whether pokemonID passes the filter.
func (f PokemonFilter) Allows(pokemonID int) bool {
	if len(f.Whitelist) > 0 {
		return slices.Contains(f.Whitelist, pokemonID)
	}
	return !slices.Contains(f.Blacklist, pokemonID)
}

// EncounterFunc pulls individual stats for a new spawn. It returns nil when
// the spawn was not encountered.
type EncounterFunc func(ws rpc.WildSpawn) *store.Encounter

// StopMemory is how long an unchanged stop stays deduplicated. A stop
// forgotten this way is forwarded again on its next sighting.
const StopMemory = time.Hour

type stopMark struct {
	lastModifiedMs int64
	seen           time.Time // when lastModifiedMs was first observed
}

// Parser turns map responses into observations. Spawns and stops already
// forwarded unchanged are dropped. It is shared by all workers.
type Parser struct {
	webhooks     PokemonFilter
	lureDuration time.Duration

	mu        sync.Mutex
	spawns    map[string]time.Time // encounter id -> disappear time
	stops     map[string]stopMark
	lastPrune time.Time
}

// NewParser creates a parser. Spawns reach webhooks only when webhooks
// allows their pokemon.
func NewParser(webhooks PokemonFilter, lureDuration time.Duration) *Parser {
	if lureDuration <= 0 {
		lureDuration = 30 * time.Minute
	}
	return &Parser{
		webhooks:     webhooks,
		lureDuration: lureDuration,
		spawns:       make(map[string]time.Time),
		stops:        make(map[string]stopMark),
	}
}

// Parse extracts observations from objs scanned at coord. encounter may be
// nil.
func (p *Parser) Parse(objs *rpc.MapObjects, coord geo.Coordinate, now time.Time, encounter EncounterFunc) Parsed {
	var out Parsed
	p.prune(now)

	for _, cell := range objs.Cells {
		out.Batch.Locations = append(out.Batch.Locations, store.ScannedLocation{
			CellID:       strconv.FormatUint(cell.CellID, 10),
			Latitude:     coord.Lat,
			Longitude:    coord.Lng,
			LastModified: now,
		})

		for _, ws := range cell.WildSpawns {
			out.Seen++
			p.parseSpawn(&out, ws, now, encounter)
		}
		for _, f := range cell.Forts {
			out.Seen++
			switch f.Type {
			case rpc.FortTypeStop:
				p.parseStop(&out, f, now)
			case rpc.FortTypeArena:
				p.parseArena(&out, f, now)
			}
		}
	}
	return out
}

// disappearance computes when a spawn hides. Out of range values, which the
// service sends on overflow, fall back to DefaultSpawnLifetime.
func disappearance(ws rpc.WildSpawn) (time.Time, bool) {
	lastModified := time.UnixMilli(ws.LastModifiedMs)
	if ws.TimeTillHiddenMs > 0 && ws.TimeTillHiddenMs < maxTimeTillHidden {
		return lastModified.Add(time.Duration(ws.TimeTillHiddenMs) * time.Millisecond), true
	}
	return lastModified.Add(DefaultSpawnLifetime), false
}

func (p *Parser) parseSpawn(out *Parsed, ws rpc.WildSpawn, now time.Time, encounter EncounterFunc) {
	disappear, verified := disappearance(ws)
	if verified {
		out.Batch.Spawnpoints = append(out.Batch.Spawnpoints, store.Spawnpoint{
			ID:         ws.SpawnpointID,
			Latitude:   ws.Latitude,
			Longitude:  ws.Longitude,
			DespawnSec: planner.SecondOfHour(disappear),
		})
	}

	if !p.markSpawn(ws.EncounterID, disappear) {
		return
	}

	spawn := store.Spawn{
		EncounterID:   ws.EncounterID,
		SpawnpointID:  ws.SpawnpointID,
		PokemonID:     ws.PokemonID,
		Form:          ws.Form,
		Latitude:      ws.Latitude,
		Longitude:     ws.Longitude,
		DisappearTime: disappear,
		LastModified:  time.UnixMilli(ws.LastModifiedMs),
	}
	if encounter != nil {
		spawn.Encounter = encounter(ws)
	}
	out.Batch.Spawns = append(out.Batch.Spawns, spawn)

	if !p.webhooks.Allows(ws.PokemonID) {
		return
	}
	untilDespawn := int(disappear.Sub(now).Seconds())
	appear := cluster.AppearanceFromDisappearance(planner.SecondOfHour(disappear))
	payload := map[string]any{
		"encounter_id":          ws.EncounterID,
		"spawnpoint_id":         ws.SpawnpointID,
		"pokemon_id":            ws.PokemonID,
		"form":                  ws.Form,
		"latitude":              ws.Latitude,
		"longitude":             ws.Longitude,
		"disappear_time":        disappear.Unix(),
		"last_modified_time":    ws.LastModifiedMs,
		"time_until_hidden_ms":  ws.TimeTillHiddenMs,
		"verified":              verified,
		"seconds_until_despawn": untilDespawn,
		"spawn_start":           appear,
		"spawn_end":             planner.SecondOfHour(disappear),
		"individual_attack":     nil,
		"individual_defense":    nil,
		"individual_stamina":    nil,
		"move_1":                nil,
		"move_2":                nil,
		"cp":                    nil,
		"cp_multiplier":         nil,
		"height":                nil,
		"weight":                nil,
		"gender":                nil,
		"pokemon_level":         nil,
	}
	if e := spawn.Encounter; e != nil {
		payload["individual_attack"] = e.Attack
		payload["individual_defense"] = e.Defense
		payload["individual_stamina"] = e.Stamina
		payload["move_1"] = e.Move1
		payload["move_2"] = e.Move2
		payload["cp"] = e.CP
		payload["cp_multiplier"] = e.CPMultiplier
		payload["height"] = e.Height
		payload["weight"] = e.Weight
		payload["gender"] = e.Gender
		payload["pokemon_level"] = PokemonLevel(e.CPMultiplier)
	}
	out.Events = append(out.Events, Event{Kind: webhook.KindSpawn, Payload: payload})
}

func (p *Parser) parseStop(out *Parsed, f rpc.Fort, now time.Time) {
	if !p.markStop(f.ID, f.LastModifiedMs, now) {
		return
	}

	lastModified := time.UnixMilli(f.LastModifiedMs)
	stop := store.Stop{
		ID:           f.ID,
		Latitude:     f.Latitude,
		Longitude:    f.Longitude,
		Enabled:      f.Enabled,
		LastModified: lastModified,
	}
	var lureUnix any
	if f.ActiveFortModifier != "" {
		expires := lastModified.Add(p.lureDuration)
		if f.LureExpiresMs > 0 {
			expires = time.UnixMilli(f.LureExpiresMs)
		}
		stop.LureExpiration = &expires
		stop.ActiveFortModifier = f.ActiveFortModifier
		lureUnix = expires.Unix()
	}
	out.Batch.Stops = append(out.Batch.Stops, stop)

	var modifier any
	if f.ActiveFortModifier != "" {
		modifier = f.ActiveFortModifier
	}
	out.Events = append(out.Events, Event{Kind: webhook.KindStop, Payload: map[string]any{
		"pokestop_id":          f.ID,
		"enabled":              f.Enabled,
		"latitude":             f.Latitude,
		"longitude":            f.Longitude,
		"last_modified":        f.LastModifiedMs,
		"lure_expiration":      lureUnix,
		"active_fort_modifier": modifier,
	}})
}

func (p *Parser) parseArena(out *Parsed, f rpc.Fort, now time.Time) {
	out.Arenas = append(out.Arenas, f)
	out.Batch.Arenas = append(out.Batch.Arenas, store.Arena{
		ID:             f.ID,
		Team:           f.Team,
		GuardPokemonID: f.GuardPokemonID,
		SlotsAvailable: f.SlotsAvailable,
		Enabled:        f.Enabled,
		Latitude:       f.Latitude,
		Longitude:      f.Longitude,
		LastModified:   time.UnixMilli(f.LastModifiedMs),
	})

	var raidActiveUntil int64
	if r := f.Raid; r != nil && time.UnixMilli(r.BattleMs).After(now) {
		raidActiveUntil = r.EndMs / 1000
	}
	out.Events = append(out.Events, Event{Kind: webhook.KindArena, Payload: map[string]any{
		"arena_id":          f.ID,
		"team_id":           f.Team,
		"guard_pokemon_id":  f.GuardPokemonID,
		"slots_available":   f.SlotsAvailable,
		"enabled":           f.Enabled,
		"latitude":          f.Latitude,
		"longitude":         f.Longitude,
		"last_modified":     f.LastModifiedMs,
		"raid_active_until": raidActiveUntil,
	}})

	r := f.Raid
	if r == nil || r.Level == 0 {
		return
	}
	out.Batch.Raids = append(out.Batch.Raids, store.Raid{
		ArenaID:   f.ID,
		Level:     r.Level,
		PokemonID: r.PokemonID,
		CP:        r.CP,
		Move1:     r.Move1,
		Move2:     r.Move2,
		Spawn:     time.UnixMilli(r.SpawnMs),
		Start:     time.UnixMilli(r.BattleMs),
		End:       time.UnixMilli(r.EndMs),
	})
	out.Events = append(out.Events, Event{Kind: webhook.KindRaid, Payload: map[string]any{
		"arena_id":   f.ID,
		"latitude":   f.Latitude,
		"longitude":  f.Longitude,
		"level":      r.Level,
		"pokemon_id": nilIfZero(r.PokemonID),
		"cp":         nilIfZero(r.CP),
		"move_1":     nilIfZero(r.Move1),
		"move_2":     nilIfZero(r.Move2),
		"spawn":      r.SpawnMs / 1000,
		"start":      r.BattleMs / 1000,
		"end":        r.EndMs / 1000,
	}})
}

// markSpawn records a spawn and reports whether it is new.
func (p *Parser) markSpawn(encounterID string, disappear time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.spawns[encounterID]; ok {
		return false
	}
	p.spawns[encounterID] = disappear
	return true
}

// markStop records a stop and reports whether it is new or changed.
func (p *Parser) markStop(id string, lastModifiedMs int64, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.stops[id]; ok && prev.lastModifiedMs == lastModifiedMs {
		return false
	}
	p.stops[id] = stopMark{lastModifiedMs: lastModifiedMs, seen: now}
	return true
}

// prune forgets spawns that have disappeared and stops unchanged for
// StopMemory, at most once a minute.
func (p *Parser) prune(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastPrune) < time.Minute {
		return
	}
	p.lastPrune = now
	for id, disappear := range p.spawns {
		if disappear.Before(now) {
			delete(p.spawns, id)
		}
	}
	for id, mark := range p.stops {
		if now.Sub(mark.seen) > StopMemory {
			delete(p.stops, id)
		}
	}
}

// PokemonLevel converts a CP multiplier to a level in half steps.
func PokemonLevel(cpMultiplier float64) float64 {
	var level float64
	if cpMultiplier < 0.734 {
		level = 58.35178527*cpMultiplier*cpMultiplier - 2.838007664*cpMultiplier + 0.8539209906
	} else {
		level = 171.0112688*cpMultiplier - 95.20425243
	}
	return math.Round(level*2) / 2
}

func nilIfZero(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
