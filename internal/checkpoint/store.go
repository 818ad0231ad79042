package checkpoint

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/soren-falk/roalab/internal/config"
	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/lyapunov"
	"github.com/soren-falk/roalab/internal/nn"
	"github.com/soren-falk/roalab/internal/roa"
	"github.com/soren-falk/roalab/internal/train"
)

// Store persists certification runs under a base directory, one subdirectory
// per run: metadata.json with the summary, config.yaml with the exact setup,
// weights.json with the network snapshot, masks.csv with the per-grid-point
// results and history.csv with the training log.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID                string    `json:"id"`
	Model             string    `json:"model"`
	Candidate         string    `json:"candidate"`
	Timestamp         time.Time `json:"timestamp"`
	Seed              int64     `json:"seed"`
	Iterations        int       `json:"iterations"`
	Certified         bool      `json:"certified"`
	CMax              float64   `json:"c_max"`
	CertifiedFraction float64   `json:"certified_fraction"`
	ROAFraction       float64   `json:"roa_fraction"`
}

// Run bundles everything worth keeping from one certification run. Snapshot
// may be nil for non-neural candidates.
type Run struct {
	Cfg      *config.Config
	World    *grid.World
	Values   []float64
	Cert     *lyapunov.Certificate
	ROA      *roa.Result
	Records  []train.Record
	Snapshot *nn.Snapshot
}

func (s *Store) Save(run *Run) (string, error) {
	if run.Cert == nil || run.ROA == nil {
		return "", fmt.Errorf("checkpoint: run needs a certificate and an ROA result")
	}

	runID := fmt.Sprintf("%s_%d", run.Cfg.Model, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:                runID,
		Model:             run.Cfg.Model,
		Candidate:         run.Cfg.Candidate,
		Timestamp:         time.Now(),
		Seed:              run.Cfg.Seed,
		Iterations:        len(run.Records),
		Certified:         !math.IsInf(run.Cert.CMax, -1),
		CertifiedFraction: run.Cert.Fraction(),
		ROAFraction:       run.ROA.Fraction(),
	}
	// JSON has no encoding for -Inf, so an empty certificate stores zero and
	// the Certified flag carries the distinction.
	if meta.Certified {
		meta.CMax = run.Cert.CMax
	}

	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, "config.yaml"), run.Cfg); err != nil {
		return "", err
	}
	if run.Snapshot != nil {
		if err := writeJSON(filepath.Join(runDir, "weights.json"), run.Snapshot); err != nil {
			return "", err
		}
	}
	if err := s.writeMasks(filepath.Join(runDir, "masks.csv"), run); err != nil {
		return "", err
	}
	if len(run.Records) > 0 {
		if err := s.writeHistory(filepath.Join(runDir, "history.csv"), run.Records); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) writeMasks(path string, run *Run) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := make([]string, 0, run.World.Dims()+3)
	for d := 0; d < run.World.Dims(); d++ {
		header = append(header, fmt.Sprintf("x%d", d))
	}
	header = append(header, "roa", "certified", "value")
	if err := w.Write(header); err != nil {
		return err
	}

	for i := 0; i < run.World.Len(); i++ {
		row := make([]string, 0, len(header))
		for _, v := range run.World.At(i) {
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		row = append(row, boolField(run.ROA.Mask[i]), boolField(run.Cert.Certified[i]))
		value := math.NaN()
		if i < len(run.Values) {
			value = run.Values[i]
		}
		row = append(row, strconv.FormatFloat(value, 'g', 10, 64))

		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeHistory(path string, records []train.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{"iteration", "c_max", "certified_fraction", "gap_count", "class_loss", "decrease_loss"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Iteration),
			strconv.FormatFloat(rec.CMax, 'g', 10, 64),
			strconv.FormatFloat(rec.CertifiedFraction, 'g', 10, 64),
			strconv.Itoa(rec.GapCount),
			strconv.FormatFloat(rec.ClassLoss, 'g', 10, 64),
			strconv.FormatFloat(rec.DecreaseLoss, 'g', 10, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if !meta.Certified {
		meta.CMax = math.Inf(-1)
	}
	return &meta, nil
}

func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, "config.yaml"))
}

func (s *Store) LoadWeights(runID string) (*nn.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "weights.json"))
	if err != nil {
		return nil, err
	}

	var snap nn.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LoadMasks reads back the per-grid-point results: coordinates, the
// simulated ROA mask, the certified mask and the candidate values.
func (s *Store) LoadMasks(runID string) (points [][]float64, roaMask, certified []bool, values []float64, err error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "masks.csv"))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, nil, nil, nil
	}

	dims := len(records[0]) - 3
	for _, record := range records[1:] {
		if len(record) != dims+3 {
			continue
		}

		point := make([]float64, dims)
		ok := true
		for d := 0; d < dims; d++ {
			point[d], err = strconv.ParseFloat(record[d], 64)
			if err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		value, err := strconv.ParseFloat(record[dims+2], 64)
		if err != nil {
			continue
		}

		points = append(points, point)
		roaMask = append(roaMask, record[dims] == "1")
		certified = append(certified, record[dims+1] == "1")
		values = append(values, value)
	}

	return points, roaMask, certified, values, nil
}

// LoadHistory reads back the training log.
func (s *Store) LoadHistory(runID string) ([]train.Record, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "history.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	history := make([]train.Record, 0, len(records))
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) != 6 {
			continue
		}

		iteration, err := strconv.Atoi(record[0])
		if err != nil {
			continue
		}
		cMax, _ := strconv.ParseFloat(record[1], 64)
		fraction, _ := strconv.ParseFloat(record[2], 64)
		gap, _ := strconv.Atoi(record[3])
		classLoss, _ := strconv.ParseFloat(record[4], 64)
		decLoss, _ := strconv.ParseFloat(record[5], 64)

		history = append(history, train.Record{
			Iteration:         iteration,
			CMax:              cMax,
			CertifiedFraction: fraction,
			GapCount:          gap,
			ClassLoss:         classLoss,
			DecreaseLoss:      decLoss,
		})
	}

	return history, nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
