package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/soren-falk/roalab/internal/checkpoint"
	"github.com/soren-falk/roalab/internal/config"
	"github.com/soren-falk/roalab/internal/control"
	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/experiment"
	"github.com/soren-falk/roalab/internal/lyapunov"
	"github.com/soren-falk/roalab/internal/metrics"
	"github.com/soren-falk/roalab/internal/nn"
	"github.com/soren-falk/roalab/internal/optim"
	"github.com/soren-falk/roalab/internal/plot"
	"github.com/soren-falk/roalab/internal/roa"
	"github.com/soren-falk/roalab/internal/train"
	"github.com/soren-falk/roalab/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string
	model      string
	candidate  string
	integrator string
	samples    int
	seed       int64
	iterations int
	live       bool
	noSave     bool
	outDir     string
	initState  string
	simTime    float64
	ensembleN  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roalab",
		Short: "neural Lyapunov region-of-attraction lab",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".roalab", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use preset configuration")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "system model")
	rootCmd.PersistentFlags().StringVar(&integrator, "integrator", "", "integrator")
	rootCmd.PersistentFlags().IntVar(&samples, "samples", 0, "grid samples per dimension")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "random seed")

	lqrCmd := &cobra.Command{
		Use:   "lqr",
		Short: "synthesize the LQR controller and print the gains",
		RunE:  runLQR,
	}

	roaCmd := &cobra.Command{
		Use:   "roa",
		Short: "estimate the region of attraction by simulation",
		RunE:  runROA,
	}

	levelsetCmd := &cobra.Command{
		Use:   "levelset",
		Short: "certify the current candidate without training",
		RunE:  runLevelset,
	}
	levelsetCmd.Flags().StringVar(&candidate, "candidate", "quadratic", "lyapunov candidate")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "train the neural candidate to grow the certified set",
		RunE:  runTrain,
	}
	trainCmd.Flags().BoolVar(&live, "live", false, "show live training view")
	trainCmd.Flags().BoolVar(&noSave, "no-save", false, "skip saving the run")
	trainCmd.Flags().IntVar(&iterations, "iterations", 0, "override training iterations")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "render region and history figures for a saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&outDir, "out", ".", "output directory")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list preset configurations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := config.ListPresets(args[0])
			if names == nil {
				return fmt.Errorf("no presets for model %q", args[0])
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "grid search over training hyperparameters",
		RunE:  runSearch,
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "simulate one closed-loop trajectory with metrics",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().StringVar(&initState, "state", "0.3,0", "initial state, comma separated")
	simulateCmd.Flags().Float64Var(&simTime, "time", 10.0, "duration")
	simulateCmd.Flags().IntVar(&ensembleN, "ensemble", 1, "number of perturbed runs around the initial state")

	rootCmd.AddCommand(lqrCmd, roaCmd, levelsetCmd, trainCmd, listCmd, exportCmd, plotCmd, presetsCmd, searchCmd, simulateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves preset, config file and flag overrides in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		m := cfg.Model
		if model != "" {
			m = model
		}
		cfg = config.GetPreset(m, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(m))
		}
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if model != "" {
		cfg.Model = model
	}
	if integrator != "" {
		cfg.Integrator = integrator
	}
	if samples > 0 {
		for d := range cfg.Grid.Samples {
			cfg.Grid.Samples[d] = samples
		}
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if iterations > 0 {
		cfg.Train.Iterations = iterations
	}

	return cfg, cfg.Validate()
}

func buildExperiment(candidateName string) (*experiment.Experiment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if candidateName != "" {
		cfg.Candidate = candidateName
	}
	return experiment.Build(cfg, experiment.NewRegistry())
}

// signalContext cancels on interrupt so long simulation sweeps die cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runLQR(cmd *cobra.Command, args []string) error {
	exp, err := buildExperiment("quadratic")
	if err != nil {
		return err
	}

	lqr := exp.Ctrl.(*control.LQR)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "model\t%s\n", exp.Cfg.Model)
	for i, row := range lqr.K {
		fmt.Fprintf(w, "K[%d]\t%s\n", i, formatRow(row))
	}
	n, _ := exp.CostToGo.Dims()
	for i := 0; i < n; i++ {
		fmt.Fprintf(w, "P[%d]\t%s\n", i, formatRow(mat.Row(nil, i, exp.CostToGo)))
	}
	if lqr.Limit > 0 {
		fmt.Fprintf(w, "saturation\t%.3f\n", lqr.Limit)
	}
	return w.Flush()
}

func formatRow(row []float64) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = fmt.Sprintf("%9.5f", v)
	}
	return strings.Join(parts, " ")
}

func runROA(cmd *cobra.Command, args []string) error {
	exp, err := buildExperiment("quadratic")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := exp.EstimateROA(ctx)
	if err != nil {
		return err
	}

	if exp.World.Dims() == 2 {
		empty := make([]bool, exp.World.Len())
		fmt.Println(viz.RegionMap(exp.World, result.Mask, empty))
		fmt.Println(viz.RegionLegend())
	}
	fmt.Printf("\nconverging: %d/%d (%.1f%%)\n", result.Converged, len(result.Mask), 100*result.Fraction())
	return nil
}

func runLevelset(cmd *cobra.Command, args []string) error {
	exp, err := buildExperiment(candidate)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	_, cert, err := exp.Certify()
	if err != nil {
		return err
	}

	result, err := exp.EstimateROA(ctx)
	if err != nil {
		return err
	}

	if exp.World.Dims() == 2 {
		fmt.Println(viz.RegionMap(exp.World, result.Mask, cert.Certified))
		fmt.Println(viz.RegionLegend())
		fmt.Println()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "candidate\t%s\n", exp.Cfg.Candidate)
	if math.IsInf(cert.CMax, -1) {
		fmt.Fprintf(w, "c_max\tnone certified\n")
	} else {
		fmt.Fprintf(w, "c_max\t%.6f\n", cert.CMax)
	}
	fmt.Fprintf(w, "certified\t%.1f%% of grid\n", 100*cert.Fraction())
	fmt.Fprintf(w, "basin\t%.1f%% of grid\n", 100*result.Fraction())
	if result.Converged > 0 {
		fmt.Fprintf(w, "coverage\t%.1f%% of basin\n", 100*float64(cert.Size)/float64(result.Converged))
	}
	return w.Flush()
}

func runTrain(cmd *cobra.Command, args []string) error {
	exp, err := buildExperiment("neural")
	if err != nil {
		return err
	}

	trainer, err := exp.Trainer()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if live {
		return runTrainLive(ctx, exp, trainer)
	}

	trainer.OnIteration = func(rec train.Record, _ *nn.Snapshot) {
		if math.IsInf(rec.CMax, -1) {
			fmt.Printf("iter %2d  c_max none       certified %5.1f%%  gap %d\n",
				rec.Iteration, 100*rec.CertifiedFraction, rec.GapCount)
			return
		}
		fmt.Printf("iter %2d  c_max %9.6f  certified %5.1f%%  gap %d\n",
			rec.Iteration, rec.CMax, 100*rec.CertifiedFraction, rec.GapCount)
	}

	records, cert, err := trainer.Run(ctx)
	if err != nil {
		return err
	}

	result, err := exp.EstimateROA(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	if exp.World.Dims() == 2 {
		fmt.Println(viz.RegionMap(exp.World, result.Mask, cert.Certified))
		fmt.Println(viz.RegionLegend())
		fmt.Println()
	}
	if chart := viz.HistoryChart(records, 60, 8); chart != "" {
		fmt.Println(chart)
		fmt.Println()
	}
	fmt.Println(viz.Summary(records))

	return saveRun(exp, records, cert, result)
}

func runTrainLive(ctx context.Context, exp *experiment.Experiment, trainer *train.Trainer) error {
	updates := make(chan tea.Msg, 16)

	trainer.OnIteration = func(rec train.Record, _ *nn.Snapshot) {
		updates <- viz.UpdateMsg(rec)
	}

	// The run outcome crosses the goroutine boundary through this channel
	// only; quitting the view early must not observe a half-written result.
	done := make(chan trainOutcome, 1)

	go func() {
		records, cert, err := trainer.Run(ctx)
		msg := viz.CompleteMsg{Err: err}
		if err == nil {
			var basin *roa.Result
			if basin, err = exp.EstimateROA(ctx); err == nil {
				msg.Certified = cert.Certified
				msg.Basin = basin.Mask
				done <- trainOutcome{records: records, cert: cert, basin: basin}
			} else {
				msg.Err = err
			}
		}
		updates <- msg
	}()

	program := tea.NewProgram(viz.NewLiveModel(exp.World, exp.Cfg.Train.Iterations, updates))
	if _, err := program.Run(); err != nil {
		return err
	}

	out, ok := finishedOutcome(done)
	if !ok {
		return nil
	}
	return saveRun(exp, out.records, out.cert, out.basin)
}

// trainOutcome carries a finished run from the training goroutine to the
// saving path.
type trainOutcome struct {
	records []train.Record
	cert    *lyapunov.Certificate
	basin   *roa.Result
}

// finishedOutcome drains the outcome channel without blocking; an interrupted
// run leaves the channel empty and there is nothing to save.
func finishedOutcome(done <-chan trainOutcome) (trainOutcome, bool) {
	select {
	case out := <-done:
		return out, true
	default:
		return trainOutcome{}, false
	}
}

func saveRun(exp *experiment.Experiment, records []train.Record, cert *lyapunov.Certificate, basin *roa.Result) error {
	if noSave {
		return nil
	}

	store := checkpoint.New(dataDir)
	if err := store.Init(); err != nil {
		return err
	}

	run := &checkpoint.Run{
		Cfg:     exp.Cfg,
		World:   exp.World,
		Values:  exp.Verifier.Values(),
		Cert:    cert,
		ROA:     basin,
		Records: records,
	}
	if exp.Net != nil {
		run.Snapshot = exp.Net.State()
	}

	runID, err := store.Save(run)
	if err != nil {
		return err
	}
	fmt.Printf("\nsaved run %s\n", runID)
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	store := checkpoint.New(dataDir)
	runs, err := store.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tCANDIDATE\tTIME\tC_MAX\tCERTIFIED\tBASIN")
	for _, run := range runs {
		cMax := "none"
		if run.Certified {
			cMax = fmt.Sprintf("%.4f", run.CMax)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%.1f%%\n",
			run.ID, run.Model, run.Candidate,
			run.Timestamp.Format("2006-01-02 15:04"),
			cMax, 100*run.CertifiedFraction, 100*run.ROAFraction)
	}
	return w.Flush()
}

func exportRun(cmd *cobra.Command, args []string) error {
	store := checkpoint.New(dataDir)
	meta, err := store.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	store := checkpoint.New(dataDir)

	meta, err := store.Load(runID)
	if err != nil {
		return err
	}
	cfg, err := store.LoadConfig(runID)
	if err != nil {
		return err
	}
	_, basin, certified, _, err := store.LoadMasks(runID)
	if err != nil {
		return err
	}

	// Rebuild the experiment to recover the grid and the LQR ellipse.
	exp, err := experiment.Build(cfg, experiment.NewRegistry())
	if err != nil {
		return err
	}

	level := 0.0
	if meta.Certified && cfg.Candidate == "quadratic" {
		level = meta.CMax
	}

	regionPath := filepath.Join(outDir, runID+"_region.png")
	if err := plot.SaveRegion(regionPath, exp.World, basin, certified, exp.CostToGo, level); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", regionPath)

	history, err := store.LoadHistory(runID)
	if err == nil && len(history) > 0 {
		historyPath := filepath.Join(outDir, runID+"_history.png")
		if err := plot.SaveHistory(historyPath, history, meta.ROAFraction); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", historyPath)
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	exp, err := buildExperiment("quadratic")
	if err != nil {
		return err
	}

	x0 := make(dynamo.State, exp.Dyn.StateDim())
	for i, field := range strings.Split(initState, ",") {
		if i >= len(x0) {
			break
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return fmt.Errorf("bad state entry %q: %w", field, err)
		}
		x0[i] = v
	}

	if ensembleN > 1 {
		return runEnsemble(exp, x0)
	}

	sim := dynamo.New(exp.Dyn, exp.NewInteg(), exp.Ctrl)
	sim.AddMetric(metrics.NewControlEffort())
	sim.AddMetric(metrics.NewConvergence())
	sim.AddMetric(metrics.NewDecreaseViolations(exp.Baseline))

	ctx, cancel := signalContext()
	defer cancel()

	result, err := sim.Run(ctx, x0, dynamo.Config{
		Dt:            exp.Cfg.Dt,
		Duration:      simTime,
		Seed:          exp.Cfg.Seed,
		ValidateState: true,
	})
	if err != nil {
		return err
	}

	if len(result.States) > 1 {
		series := make([]float64, len(result.States))
		for i, x := range result.States {
			series[i] = x[0]
		}
		fmt.Println(asciigraph.Plot(series,
			asciigraph.Height(10), asciigraph.Width(60), asciigraph.Caption("x0")))
		fmt.Println()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "steps\t%d\n", result.StepsTaken)
	fmt.Fprintf(w, "final state\t%s\n", formatRow(result.Final()))
	for name, value := range result.Metrics {
		fmt.Fprintf(w, "%s\t%.6f\n", name, value)
	}
	if result.EnergyDrift > 0 {
		fmt.Fprintf(w, "energy drift\t%.2e\n", result.EnergyDrift)
	}
	for _, simErr := range result.Errors {
		fmt.Fprintf(w, "error\t%v\n", simErr)
	}
	return w.Flush()
}

// runEnsemble fans the initial state out into perturbed copies and reports
// how many of the runs settle near the origin.
func runEnsemble(exp *experiment.Experiment, x0 dynamo.State) error {
	ctx, cancel := signalContext()
	defer cancel()

	rng := rand.New(rand.NewSource(exp.Cfg.Seed))
	starts := make([]dynamo.State, ensembleN)
	for i := range starts {
		s := x0.Clone()
		for d := range s {
			s[d] += 0.05 * (2*rng.Float64() - 1)
		}
		starts[i] = s
	}

	ens := dynamo.NewEnsemble(exp.Dyn, exp.NewInteg, exp.Ctrl, exp.Cfg.Seed)
	results, err := ens.Run(ctx, starts, dynamo.Config{
		Dt:            exp.Cfg.Dt,
		Duration:      simTime,
		ValidateState: true,
	})
	if err != nil {
		return err
	}

	converged := 0
	for _, r := range results {
		if r.Final().Norm() <= exp.Cfg.ROA.ConvergeRadius {
			converged++
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "runs\t%d\n", len(results))
	fmt.Fprintf(w, "converged\t%d\n", converged)
	fmt.Fprintf(w, "fraction\t%.3f\n", float64(converged)/float64(len(results)))
	return w.Flush()
}

// runSearch sweeps learning rate and lagrange factor on a reduced setup and
// reports the combination with the largest certified fraction.
func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	search := optim.NewGridSearch(
		[]string{"learning_rate", "lagrange_factor"},
		[][]float64{
			{1e-3, 5e-3, 1e-2},
			{0.5, 1.0, 2.0},
		},
	)

	trial := func(ctx context.Context, params map[string]float64) (float64, error) {
		cfg, err := loadConfig()
		if err != nil {
			return 0, err
		}
		cfg.Train.LearningRate = params["learning_rate"]
		cfg.Train.LagrangeFactor = params["lagrange_factor"]
		cfg.Candidate = "neural"

		exp, err := experiment.Build(cfg, experiment.NewRegistry())
		if err != nil {
			return 0, err
		}
		trainer, err := exp.Trainer()
		if err != nil {
			return 0, err
		}

		records, _, err := trainer.Run(ctx)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			return 0, nil
		}

		score := records[len(records)-1].CertifiedFraction
		fmt.Printf("lr %.4f  lambda %.2f  certified %.1f%%\n",
			params["learning_rate"], params["lagrange_factor"], 100*score)
		return score, nil
	}

	best, score, err := search.Search(ctx, trial)
	if err != nil {
		return err
	}
	if best == nil {
		return fmt.Errorf("no trial succeeded")
	}

	fmt.Printf("\nbest: lr %.4f  lambda %.2f  certified %.1f%%\n",
		best["learning_rate"], best["lagrange_factor"], 100*score)
	return nil
}
