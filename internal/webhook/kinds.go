package webhook

import (
	"fmt"
	"reflect"
)

// Kind is the type of a webhook message.
type Kind string

// Message kinds.
const (
	KindSpawn       Kind = "spawn"
	KindStop        Kind = "stop"
	KindArena       Kind = "arena"
	KindArenaDetail Kind = "arena_detail"
	KindRaid        Kind = "raid"
	KindCaptcha     Kind = "captcha"
)

// ParseKind validates a kind name from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSpawn, KindStop, KindArena, KindArenaDetail, KindRaid, KindCaptcha:
		return k, nil
	}
	return "", fmt.Errorf("unknown webhook type %q", s)
}

// identifierFields name the payload field that identifies an entity of each
// kind; the first present field wins. Kinds without an entry are never
// deduplicated.
var identifierFields = map[Kind][]string{
	KindStop:        {"pokestop_id", "stop_id"},
	KindSpawn:       {"encounter_id"},
	KindArena:       {"arena_id"},
	KindArenaDetail: {"id"},
	KindRaid:        {"arena_id"},
}

// keyFields are the fields whose change makes a known entity worth sending
// again.
var keyFields = map[Kind][]string{
	KindSpawn: {
		"spawnpoint_id", "pokemon_id", "latitude", "longitude", "disappear_time",
		"move_1", "move_2", "individual_attack", "individual_defense",
		"individual_stamina", "form", "cp", "pokemon_level",
	},
	KindStop: {
		"enabled", "latitude", "longitude", "last_modified", "lure_expiration",
		"active_fort_modifier",
	},
	KindArena: {
		"team_id", "guard_pokemon_id", "slots_available", "enabled", "latitude",
		"longitude", "last_modified",
	},
	KindArenaDetail: {"latitude", "longitude", "team", "pokemon"},
	KindRaid: {
		"latitude", "longitude", "level", "pokemon_id", "cp", "move_1", "move_2",
		"start", "end",
	},
}

// identifier returns the dedup key of payload, or false if kind is not
// deduplicated or payload lacks an identifier.
func identifier(kind Kind, payload map[string]any) (string, bool) {
	for _, f := range identifierFields[kind] {
		if v, ok := payload[f]; ok && v != nil {
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

// keyFieldsChanged reports whether any key field differs between the two
// payloads.
func keyFieldsChanged(kind Kind, old, cur map[string]any) bool {
	for _, f := range keyFields[kind] {
		if !reflect.DeepEqual(old[f], cur[f]) {
			return true
		}
	}
	return false
}
