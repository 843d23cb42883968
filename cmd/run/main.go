// Command run sweeps the excitation gap over a range of chain lengths.
//
// Results are persisted in sqlite, so an interrupted sweep resumes where it
// left off. The gathered sweep is printed as CSV, followed by observable
// profiles of the longest chain's ground state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"spingap"
	"spingap/mat"
	"spingap/solver"
	"spingap/store"
)

var (
	runDir     = flag.String("d", filepath.Join("runs", "spingap"), "run directory")
	configPath = flag.String("c", "", "sweep config yaml, empty for defaults")
	seed       = flag.Uint64("seed", 25, "random seed")
)

// Config is a sweep over chain lengths.
type Config struct {
	Lengths []int   `yaml:"lengths"`
	J       float64 `yaml:"j"`
	Spin    string  `yaml:"spin"`

	Sweeps        int     `yaml:"sweeps"`
	MaxDim        int     `yaml:"maxDim"`
	Cutoff        float64 `yaml:"cutoff"`
	Noise         float64 `yaml:"noise"`
	PenaltyWeight float64 `yaml:"penaltyWeight"`

	// Workers is the number of chains estimated concurrently.
	Workers int `yaml:"workers"`
	// Profiles is the length whose ground state observables are printed,
	// zero for the longest chain.
	Profiles int `yaml:"profiles"`
}

func defaultConfig() Config {
	return Config{
		Lengths: []int{2, 4, 6, 8},
		J:       1,
		Spin:    string(spingap.SpinHalf),
		Sweeps:  30,
		MaxDim:  32,
		Cutoff:  1e-8,
		Workers: 2,
	}
}

func readConfig(fpath string) (Config, error) {
	c := defaultConfig()
	if fpath == "" {
		return c, nil
	}
	b, err := os.ReadFile(fpath)
	if err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, errors.Wrap(err, fpath)
	}
	if len(c.Lengths) == 0 || c.Workers <= 0 {
		return Config{}, errors.Errorf("%#v", c)
	}
	return c, nil
}

func (c Config) spec(length int) spingap.ChainSpec {
	return spingap.ChainSpec{Length: length, J: c.J, Spin: spingap.Spin(c.Spin)}
}

func (c Config) solverConfig() spingap.SolverConfig {
	return spingap.SolverConfig{
		Sweeps:        c.Sweeps,
		MaxDim:        c.MaxDim,
		Cutoff:        c.Cutoff,
		Noise:         c.Noise,
		PenaltyWeight: c.PenaltyWeight,
	}
}

// estimate runs the engine on one chain, skipping chains already in s.
func estimate(ctx context.Context, s *store.Store, cfg Config, length int) error {
	spec := cfg.spec(length)
	if _, ok, err := s.Get(ctx, spec); err != nil {
		return errors.Wrap(err, "")
	} else if ok {
		log.Printf("%d cached", length)
		return nil
	}

	// Derive a chain specific seed, so resumed sweeps reproduce the
	// original estimates regardless of which chains were cached.
	rng := rand.New(rand.NewPCG(*seed, uint64(length)))
	engine := spingap.NewEngine(solver.New(rng), rng)
	gap, err := engine.EstimateGap(spec, cfg.solverConfig())
	if errors.Cause(err) == spingap.ErrSolverDivergence {
		// A diverged chain must not sink the rest of the sweep.
		log.Printf("%d diverged: %+v", length, err)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("%d", length))
	}

	if err := s.Put(ctx, store.Record{Spec: spec, Gap: gap}); err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("%d %f %s %s", length, gap.Value, gap.Status, gap.Method)
	return nil
}

// profiles prints the observable profiles of the chain's ground state.
func profiles(cfg Config, length int) error {
	spec := cfg.spec(length)
	h, buf := mat.COOZeros(1, 1), mat.COOZeros(1, 1)
	if err := spingap.Heisenberg(h, buf, spec); err != nil {
		return errors.Wrap(err, "")
	}

	rng := rand.New(rand.NewPCG(*seed, uint64(length)))
	guess, err := spingap.RandGuess(rng, spec)
	if err != nil {
		return errors.Wrap(err, "")
	}
	res, err := solver.New(rng).SolveGroundState(h, guess, cfg.solverConfig())
	if err != nil {
		return errors.Wrap(err, "")
	}

	magnet, err := spingap.MagnetizationProfile(res.State)
	if err != nil {
		return errors.Wrap(err, "")
	}
	corr, err := spingap.CorrelationProfile(res.State, 1)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("site,magnetization,correlation\n")
	for i := range magnet {
		fmt.Printf("%d,%f,%f\n", magnet[i].Index, magnet[i].Value, corr[i].Value)
	}

	if length > 2 {
		entropy, err := spingap.EntropyProfile(res.State)
		if err != nil {
			return errors.Wrap(err, "")
		}
		fmt.Printf("bond,entropy\n")
		for _, p := range entropy {
			fmt.Printf("%d,%f\n", p.Index, p.Value)
		}
	}
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	cfg, err := readConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	s, err := store.Open(filepath.Join(*runDir, "gap.db"))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer s.Close()

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, length := range cfg.Lengths {
		g.Go(func() error {
			return estimate(ctx, s, cfg, length)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "")
	}

	records, err := s.All(ctx)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("length,j,spin,gap,status,method\n")
	for _, r := range records {
		fmt.Printf("%d,%f,%s,%f,%s,%s\n", r.Spec.Length, r.Spec.J, r.Spec.Spin, r.Gap.Value, r.Gap.Status, r.Gap.Method)
	}

	longest := cfg.Profiles
	if longest == 0 {
		for _, l := range cfg.Lengths {
			if l > longest {
				longest = l
			}
		}
	}
	if err := profiles(cfg, longest); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
