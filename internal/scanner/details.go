package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/rpc"
	"github.com/locplace/mapscan/internal/store"
	"github.com/locplace/mapscan/internal/webhook"
)

// arenaDetailRangeKm is how close an arena must be to be refreshed.
const arenaDetailRangeKm = 1.0

// Pause between arena detail calls.
const (
	arenaPauseMin = 2 * time.Second
	arenaPauseMax = 3 * time.Second
)

// encounterFunc returns the callback the parser uses to encounter new
// spawns, or nil when encounters are off.
func (w *Worker) encounterFunc(ctx context.Context, client rpc.Client, id *account.Identity, pos geo.Coordinate, log *zap.SugaredLogger) EncounterFunc {
	cfg := w.s.config.Encounter
	if !cfg.Enabled {
		return nil
	}
	return func(ws rpc.WildSpawn) *store.Encounter {
		if !cfg.Filter.Allows(ws.PokemonID) {
			return nil
		}
		if err := w.s.rt.Clock.Sleep(ctx, cfg.Delay); err != nil {
			return nil
		}
		req := rpc.NewRequest(id, rpc.Call{
			Method: rpc.MethodEncounter,
			Params: map[string]any{
				"encounter_id":     ws.EncounterID,
				"spawn_point_id":   ws.SpawnpointID,
				"player_latitude":  pos.Lat,
				"player_longitude": pos.Lng,
			},
		}, rpc.CommonCompanions...)
		resp, err := w.call(ctx, client, id, log, req)
		if err != nil {
			log.Warnf("Encounter of %s failed: %v", ws.EncounterID, err)
			return nil
		}
		var res rpc.EncounterResult
		ok, err := resp.Decode(rpc.MethodEncounter, &res)
		if err != nil || !ok || res.Status != rpc.EncounterSuccess {
			log.Debugf("Encounter of %s returned no usable stats", ws.EncounterID)
			return nil
		}
		if w.s.metrics != nil {
			w.s.metrics.Encounters.Inc()
		}
		p := res.Pokemon
		return &store.Encounter{
			Attack:       p.IndividualAttack,
			Defense:      p.IndividualDefense,
			Stamina:      p.IndividualStamina,
			Move1:        p.Move1,
			Move2:        p.Move2,
			CP:           p.CP,
			CPMultiplier: p.CPMultiplier,
			Height:       p.Height,
			Weight:       p.Weight,
			Gender:       p.Gender,
		}
	}
}

// refreshArenas fetches details for nearby arenas whose details are missing
// or older than the arena itself, and adds them to parsed.
func (w *Worker) refreshArenas(ctx context.Context, client rpc.Client, id *account.Identity, pos geo.Coordinate, log *zap.SugaredLogger, parsed *Parsed) {
	var near []rpc.Fort
	for _, f := range parsed.Arenas {
		if geo.DistanceKm(pos, geo.Coordinate{Lat: f.Latitude, Lng: f.Longitude}) <= arenaDetailRangeKm {
			near = append(near, f)
		}
	}
	if len(near) == 0 {
		return
	}

	ids := make([]string, len(near))
	for i, f := range near {
		ids[i] = f.ID
	}
	scanned, err := w.s.arenaDetailsScanned(ctx, ids)
	if err != nil {
		log.Errorf("Failed to look up arena details: %v", err)
		return
	}

	for _, f := range near {
		if at, ok := scanned[f.ID]; ok && !at.Before(time.UnixMilli(f.LastModifiedMs)) {
			continue
		}
		if err := w.s.rt.Clock.Sleep(ctx, rpc.Uniform(arenaPauseMin, arenaPauseMax)); err != nil {
			return
		}
		w.message("Getting details for arena %s", f.ID)

		details, err := w.arenaDetails(ctx, client, id, pos, f, log)
		if err != nil {
			log.Warnf("Failed to get details for arena %s: %v", f.ID, err)
			continue
		}
		now := w.s.rt.Clock.Now()
		detail := store.ArenaDetail{
			ArenaID:     f.ID,
			Name:        details.Name,
			Description: details.Description,
			URL:         details.URL,
			LastScanned: now,
		}
		defenders := make([]map[string]any, 0, len(details.Defenders))
		for _, d := range details.Defenders {
			detail.Defenders = append(detail.Defenders, store.Defender(d))
			defenders = append(defenders, map[string]any{
				"pokemon_id":    d.PokemonID,
				"cp":            d.CP,
				"trainer_name":  d.TrainerName,
				"trainer_level": d.TrainerLevel,
				"move_1":        d.Move1,
				"move_2":        d.Move2,
			})
		}
		parsed.Batch.ArenaDetails = append(parsed.Batch.ArenaDetails, detail)
		parsed.Events = append(parsed.Events, Event{Kind: webhook.KindArenaDetail, Payload: map[string]any{
			"id":          f.ID,
			"latitude":    f.Latitude,
			"longitude":   f.Longitude,
			"team":        details.Team,
			"name":        details.Name,
			"description": details.Description,
			"url":         details.URL,
			"pokemon":     defenders,
		}})
		w.s.markArenaScanned(f.ID, now)
		if w.s.metrics != nil {
			w.s.metrics.ArenaDetails.Inc()
		}
	}
}

func (w *Worker) arenaDetails(ctx context.Context, client rpc.Client, id *account.Identity, pos geo.Coordinate, f rpc.Fort, log *zap.SugaredLogger) (rpc.ArenaDetails, error) {
	req := rpc.NewRequest(id, rpc.Call{
		Method: rpc.MethodArenaDetails,
		Params: map[string]any{
			"gym_id":           f.ID,
			"player_latitude":  pos.Lat,
			"player_longitude": pos.Lng,
			"gym_latitude":     f.Latitude,
			"gym_longitude":    f.Longitude,
		},
	}, rpc.CommonCompanions...)
	resp, err := w.call(ctx, client, id, log, req)
	if err != nil {
		return rpc.ArenaDetails{}, err
	}
	var details rpc.ArenaDetails
	ok, err := resp.Decode(rpc.MethodArenaDetails, &details)
	if err != nil {
		return rpc.ArenaDetails{}, err
	}
	if !ok {
		return rpc.ArenaDetails{}, fmt.Errorf("%w: no arena details", rpc.ErrUnexpectedResponse)
	}
	return details, nil
}

// arenaDetailsScanned merges the in-process record of detail fetches with
// the index, if any.
func (s *Scanner) arenaDetailsScanned(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	var missing []string
	s.arenasMu.Lock()
	for _, id := range ids {
		if at, ok := s.arenasScanned[id]; ok {
			out[id] = at
		} else {
			missing = append(missing, id)
		}
	}
	s.arenasMu.Unlock()

	if len(missing) == 0 || s.rt.Arenas == nil {
		return out, nil
	}
	stored, err := s.rt.Arenas.ArenaDetailsScanned(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, at := range stored {
		out[id] = at
	}
	return out, nil
}

func (s *Scanner) markArenaScanned(id string, at time.Time) {
	s.arenasMu.Lock()
	defer s.arenasMu.Unlock()
	s.arenasScanned[id] = at
}

// forward hands a scan's observations to persistence and webhooks.
func (s *Scanner) forward(p Parsed) {
	if s.rt.Sink != nil && p.Batch.Len() > 0 {
		s.rt.Sink.Enqueue(p.Batch)
	}
	if s.rt.Events != nil {
		for _, e := range p.Events {
			s.rt.Events.Enqueue(e.Kind, e.Payload)
		}
	}
	if s.metrics != nil {
		s.metrics.ObservationsPerScan.Observe(float64(p.Seen))
		s.metrics.Observations.WithLabelValues("spawn").Add(float64(len(p.Batch.Spawns)))
		s.metrics.Observations.WithLabelValues("stop").Add(float64(len(p.Batch.Stops)))
		s.metrics.Observations.WithLabelValues("arena").Add(float64(len(p.Batch.Arenas)))
		s.metrics.Observations.WithLabelValues("raid").Add(float64(len(p.Batch.Raids)))
	}
}
