package stats

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bkthomps/GeneticMultiplexer/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	configFile         = "config.json"
	fitnessHistoryFile = "fitness_history.txt"
	bestTreeFile       = "best_tree.txt"
	diagnosticsFile    = "generation_diagnostics.json"
)

type RunConfig struct {
	RunID string `json:"run_id"`
	model.RunConfig
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	FinalBestFitness      float64                       `json:"final_best_fitness"`
	BestTree              string                        `json:"best_tree"`
	Converged             bool                          `json:"converged"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Target           string  `json:"target"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	Converged        bool    `json:"converged"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes one directory per run under baseDir. The fitness
// history is plain text with one best fitness per generation per line, and
// the best tree is its printed token form followed by a newline.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeFitnessHistory(filepath.Join(runDir, fitnessHistoryFile), artifacts.BestByGeneration); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, bestTreeFile), []byte(artifacts.BestTree+"\n"), 0o644); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, diagnosticsFile), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}

	return runDir, nil
}

func writeFitnessHistory(path string, history []float64) error {
	var b strings.Builder
	for _, fitness := range history {
		b.WriteString(strconv.FormatFloat(fitness, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func ReadFitnessHistory(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, fitnessHistoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	history := make([]float64, 0, 64)
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, false, fmt.Errorf("fitness history line %d: %w", line, err)
		}
		history = append(history, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return history, true, nil
}

func ReadBestTree(baseDir, runID string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, bestTreeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, diagnosticsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, false, err
	}
	return diagnostics, true, nil
}

// AppendRunIndex records entry in run_index.json, replacing any entry with
// the same run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(index, func(e RunIndexEntry) bool { return e.RunID == entry.RunID })
	if i >= 0 {
		index[i] = entry
	} else {
		index = append(index, entry)
	}
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first. Entries sharing a
// timestamp keep reverse append order.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	index, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	slices.Reverse(index)
	slices.SortStableFunc(index, func(a, b RunIndexEntry) int {
		return strings.Compare(b.CreatedAtUTC, a.CreatedAtUTC)
	})
	return index, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []RunIndexEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var index []RunIndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode %s: %w", runIndexFile, err)
	}
	return index, nil
}

// ExportRunArtifacts copies the artifacts of runID into outDir/runID. The
// source directory must hold a readable config.json.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	if _, ok, err := ReadRunConfig(baseDir, runID); err != nil {
		return "", fmt.Errorf("run %s: %w", runID, err)
	} else if !ok {
		return "", fmt.Errorf("no artifacts for run %s under %s", runID, baseDir)
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, name := range []string{configFile, fitnessHistoryFile, bestTreeFile, diagnosticsFile} {
		if err := copyFile(filepath.Join(baseDir, runID, name), filepath.Join(dst, name)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
