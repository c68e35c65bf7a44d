package store

import "time"

// Spawn is one observed wild spawn. The encounter fields are nil unless
// the spawn was encountered.
type Spawn struct {
	EncounterID   string
	SpawnpointID  string
	PokemonID     int
	Form          int
	Latitude      float64
	Longitude     float64
	DisappearTime time.Time
	LastModified  time.Time
	Encounter     *Encounter
}

// Encounter holds per-individual stats pulled by an encounter call.
type Encounter struct {
	Attack       int
	Defense      int
	Stamina      int
	Move1        int
	Move2        int
	CP           int
	CPMultiplier float64
	Height       float64
	Weight       float64
	Gender       int
}

// Stop is a stationary stop.
type Stop struct {
	ID                 string
	Latitude           float64
	Longitude          float64
	Enabled            bool
	LureExpiration     *time.Time
	ActiveFortModifier string
	LastModified       time.Time
}

// Arena is a stationary arena.
type Arena struct {
	ID             string
	Team           int
	GuardPokemonID int
	SlotsAvailable int
	Enabled        bool
	Latitude       float64
	Longitude      float64
	LastModified   time.Time
}

// ArenaDetail is the extended arena description fetched separately.
type ArenaDetail struct {
	ArenaID     string
	Name        string
	Description string
	URL         string
	Defenders   []Defender
	LastScanned time.Time
}

// Defender is one arena defender, stored as JSON.
type Defender struct {
	PokemonID    int    `json:"pokemon_id"`
	CP           int    `json:"cp"`
	TrainerName  string `json:"trainer_name"`
	TrainerLevel int    `json:"trainer_level"`
	Move1        int    `json:"move_1"`
	Move2        int    `json:"move_2"`
}

// Raid is the raid attached to an arena. PokemonID is zero before the boss
// hatches.
type Raid struct {
	ArenaID   string
	Level     int
	PokemonID int
	CP        int
	Move1     int
	Move2     int
	Spawn     time.Time
	Start     time.Time
	End       time.Time
}

// ScannedLocation records when a map cell was last covered.
type ScannedLocation struct {
	CellID       string
	Latitude     float64
	Longitude    float64
	LastModified time.Time
}

// Spawnpoint is a spawn location with the second of the hour its spawns
// disappear.
type Spawnpoint struct {
	ID         string
	Latitude   float64
	Longitude  float64
	DespawnSec int
}

// Batch groups the observations of one scan.
type Batch struct {
	Spawns       []Spawn
	Stops        []Stop
	Arenas       []Arena
	ArenaDetails []ArenaDetail
	Raids        []Raid
	Spawnpoints  []Spawnpoint
	Locations    []ScannedLocation
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Spawns) + len(b.Stops) + len(b.Arenas) + len(b.ArenaDetails) +
		len(b.Raids) + len(b.Spawnpoints) + len(b.Locations)
}
