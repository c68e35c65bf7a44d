package rpc

// ChallengeResult is the CHECK_CHALLENGE result.
type ChallengeResult struct {
	ShowChallenge bool   `json:"show_challenge"`
	ChallengeURL  string `json:"challenge_url"`
}

// InventoryResult is the part of GET_INVENTORY the scanner tracks.
type InventoryResult struct {
	NewTimestampMs int64 `json:"new_timestamp_ms"`
	Level          int   `json:"level"`
}

// PlayerResult is the GET_PLAYER result.
type PlayerResult struct {
	Banned  bool `json:"banned"`
	Warn    bool `json:"warn"`
	Success bool `json:"success"`
}

// RemoteConfigResult is the DOWNLOAD_REMOTE_CONFIG_VERSION result. The
// timestamps are nil when the service omitted them.
type RemoteConfigResult struct {
	Hash                     string `json:"hash"`
	AssetDigestTimestampMs   *int64 `json:"asset_digest_timestamp_ms"`
	ItemTemplatesTimestampMs *int64 `json:"item_templates_timestamp_ms"`
}

// PageResultMore means another page follows.
const PageResultMore = 2

// PageResult is the result of GET_ASSET_DIGEST and DOWNLOAD_ITEM_TEMPLATES.
type PageResult struct {
	Result      int   `json:"result"`
	PageOffset  int   `json:"page_offset"`
	TimestampMs int64 `json:"timestamp_ms"`
}

// MapObjects is the GET_MAP_OBJECTS result.
type MapObjects struct {
	Status int       `json:"status"`
	Cells  []MapCell `json:"map_cells"`
}

// MapCell is one S2 cell of map objects.
type MapCell struct {
	CellID             uint64      `json:"s2_cell_id"`
	CurrentTimestampMs int64       `json:"current_timestamp_ms"`
	WildSpawns         []WildSpawn `json:"wild_pokemons"`
	NearbySpawns       []WildSpawn `json:"nearby_pokemons"`
	Forts              []Fort      `json:"forts"`
}

// WildSpawn is a spawned mobile entity.
type WildSpawn struct {
	EncounterID      string  `json:"encounter_id"`
	SpawnpointID     string  `json:"spawn_point_id"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	PokemonID        int     `json:"pokemon_id"`
	Form             int     `json:"form"`
	TimeTillHiddenMs int64   `json:"time_till_hidden_ms"`
	LastModifiedMs   int64   `json:"last_modified_timestamp_ms"`
}

// Fort types.
const (
	FortTypeArena = 0
	FortTypeStop  = 1
)

// Fort is a stop or an arena.
type Fort struct {
	ID                 string    `json:"id"`
	Type               int       `json:"type"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Enabled            bool      `json:"enabled"`
	LastModifiedMs     int64     `json:"last_modified_timestamp_ms"`
	LureExpiresMs      int64     `json:"lure_expires_timestamp_ms"`
	ActiveFortModifier string    `json:"active_fort_modifier"`
	Team               int       `json:"owned_by_team"`
	GuardPokemonID     int       `json:"guard_pokemon_id"`
	SlotsAvailable     int       `json:"slots_available"`
	Raid               *RaidInfo `json:"raid_info"`
}

// RaidInfo describes a raid on an arena.
type RaidInfo struct {
	Level     int   `json:"raid_level"`
	PokemonID int   `json:"pokemon_id"`
	CP        int   `json:"cp"`
	Move1     int   `json:"move_1"`
	Move2     int   `json:"move_2"`
	SpawnMs   int64 `json:"raid_spawn_ms"`
	BattleMs  int64 `json:"raid_battle_ms"`
	EndMs     int64 `json:"raid_end_ms"`
}

// EncounterSuccess is the ENCOUNTER status for a usable result.
const EncounterSuccess = 1

// EncounterResult is the ENCOUNTER result.
type EncounterResult struct {
	Status  int              `json:"status"`
	Pokemon EncounterPokemon `json:"pokemon_data"`
}

// EncounterPokemon holds the per-individual stats of an encounter.
type EncounterPokemon struct {
	IndividualAttack  int     `json:"individual_attack"`
	IndividualDefense int     `json:"individual_defense"`
	IndividualStamina int     `json:"individual_stamina"`
	Move1             int     `json:"move_1"`
	Move2             int     `json:"move_2"`
	CP                int     `json:"cp"`
	CPMultiplier      float64 `json:"cp_multiplier"`
	Form              int     `json:"form"`
	Height            float64 `json:"height_m"`
	Weight            float64 `json:"weight_kg"`
	Gender            int     `json:"gender"`
}

// ArenaDetails is the GYM_GET_INFO result.
type ArenaDetails struct {
	ID          string     `json:"gym_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	Team        int        `json:"team"`
	Defenders   []Defender `json:"defenders"`
}

// Defender is a pokemon stationed at an arena.
type Defender struct {
	PokemonID    int    `json:"pokemon_id"`
	CP           int    `json:"cp"`
	TrainerName  string `json:"trainer_name"`
	TrainerLevel int    `json:"trainer_level"`
	Move1        int    `json:"move_1"`
	Move2        int    `json:"move_2"`
}

// VerifyChallengeResult is the VERIFY_CHALLENGE result.
type VerifyChallengeResult struct {
	Success bool `json:"success"`
}
