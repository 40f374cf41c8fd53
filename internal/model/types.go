package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunConfig is the full parameter set of one evolution run.
type RunConfig struct {
	Target                 string  `json:"target"`
	PopulationSize         int     `json:"population_size"`
	SelectionPerTournament int     `json:"selection_per_tournament"`
	CrossoverProbability   float64 `json:"crossover_probability"`
	MutationProbability    float64 `json:"mutation_probability"`
	Aggressiveness         float64 `json:"aggressiveness"`
	InitialDepth           int     `json:"initial_depth"`
	DisfavorDepth          int     `json:"disfavor_depth"`
	MaximumDepth           int     `json:"maximum_depth"`
	MaxGenerations         int     `json:"max_generations"`
	Workers                int     `json:"workers"`
	Seed                   int64   `json:"seed"`
	ContinueFrom           string  `json:"continue_from,omitempty"`
}

type RunRecord struct {
	VersionedRecord
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	Config      RunConfig `json:"config"`
	Generations int       `json:"generations"`
	BestFitness float64   `json:"best_fitness"`
	Converged   bool      `json:"converged"`
	BestTree    string    `json:"best_tree"`
	CreatedAt   string    `json:"created_at"`
}

// GenerationDiagnostics summarises one generation of the evolution loop.
type GenerationDiagnostics struct {
	Generation     int     `json:"generation"`
	BestFitness    float64 `json:"best_fitness"`
	MeanFitness    float64 `json:"mean_fitness"`
	MinFitness     float64 `json:"min_fitness"`
	BestDepth      int     `json:"best_depth"`
	BestLogicSize  int     `json:"best_logic_size"`
	MeanDepth      float64 `json:"mean_depth"`
	DistinctTrees  int     `json:"distinct_trees"`
	Crossovers     int     `json:"crossovers"`
	Mutations      int     `json:"mutations"`
	Reproductions  int     `json:"reproductions"`
	Evaluations    int     `json:"evaluations"`
	BestTree       string  `json:"best_tree,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// PopulationSnapshot stores a population as printed trees so that a later run
// can parse it back and continue from it.
type PopulationSnapshot struct {
	VersionedRecord
	ID         string   `json:"id"`
	Target     string   `json:"target"`
	Generation int      `json:"generation"`
	Trees      []string `json:"trees"`
}
