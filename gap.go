package spingap

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"spingap/mat"
	"spingap/mps"
)

var (
	// ErrSolverDivergence reports that an oracle call failed to produce a
	// finite energy.
	ErrSolverDivergence = errors.New("solver divergence")
	// ErrInvalidBond reports an entanglement measurement at a boundary or
	// non-existent bond.
	ErrInvalidBond = errors.New("invalid bond")
)

// SolverConfig configures a single oracle optimization.
type SolverConfig struct {
	// Sweeps bounds the number of optimization passes.
	Sweeps int
	// MaxDim caps the bond dimension of returned wavefunctions.
	MaxDim int
	// Cutoff is the relative Schmidt weight below which components are
	// discarded when compressing returned wavefunctions.
	Cutoff float64
	// Noise perturbs early optimization passes to escape local minima.
	Noise float64
	// PenaltyWeight scales the energy penalty on overlap with References.
	PenaltyWeight float64
	// References are previously found states to be penalized against.
	References []*mps.MPS
}

// Validate checks that the configuration is well formed.
// In particular a penalized optimization must carry a positive weight.
func (c SolverConfig) Validate() error {
	if c.Sweeps <= 0 || c.MaxDim <= 0 {
		return errors.Errorf("%d %d", c.Sweeps, c.MaxDim)
	}
	if c.Cutoff <= 0 || c.Cutoff > 1 {
		return errors.Errorf("cutoff %f", c.Cutoff)
	}
	if c.Noise < 0 {
		return errors.Errorf("noise %f", c.Noise)
	}
	if c.PenaltyWeight < 0 {
		return errors.Errorf("penalty weight %f", c.PenaltyWeight)
	}
	if len(c.References) > 0 && c.PenaltyWeight == 0 {
		return errors.Errorf("%d references without penalty weight", len(c.References))
	}
	return nil
}

// Result is the outcome of a single oracle optimization.
// Ownership of State passes to the caller.
type Result struct {
	// Energy is the variational energy of State under the physical
	// Hamiltonian, excluding penalty terms.
	Energy float64
	// State is the optimized wavefunction, compressed to the
	// configuration's MaxDim and Cutoff.
	State *mps.MPS
}

// Oracle is a variational eigensolver for sparse spin chain Hamiltonians.
type Oracle interface {
	// SolveGroundState relaxes guess towards the lowest state of operator
	// reachable from it.
	SolveGroundState(operator *mat.COO, guess *mps.MPS, cfg SolverConfig) (Result, error)
	// SolveExcitedState relaxes guess under operator plus penalty
	// projectors on the penalized states.
	SolveExcitedState(operator *mat.COO, penalized []*mps.MPS, guess *mps.MPS, cfg SolverConfig) (Result, error)
}

// Method tags the strategy that produced a gap estimate.
type Method string

const (
	MethodOrthogonalPenalty Method = "orthogonal-penalty"
	MethodSectorScan        Method = "sector-scan"
)

// Status qualifies a gap estimate.
type Status string

const (
	// StatusOK is a strictly positive gap beyond the numerical noise floor.
	StatusOK Status = "ok"
	// StatusClamped marks a negative or vanishing candidate clamped to zero.
	StatusClamped Status = "clamped"
	// StatusNonConvergent marks the zero fallback when no strategy
	// produced a usable candidate.
	StatusNonConvergent Status = "non-convergent"
)

// Gap is an estimated excitation gap.
// Value is never negative. A zero Value is always accompanied by a
// non StatusOK status, so consumers can tell a clamped estimate from a
// failed one.
type Gap struct {
	Value  float64
	Status Status
	Method Method
}

// GapOptions are options of the gap estimation engine.
type GapOptions struct {
	orthTol     float64
	highOverlap float64
	retries     int
	gateCount   int
	noiseFloor  float64
	sectors     []int
}

// NewGapOptions returns the default options.
func NewGapOptions() GapOptions {
	opt := GapOptions{}
	opt.orthTol = 0.1
	opt.highOverlap = 0.99
	opt.retries = 3
	opt.gateCount = 2
	opt.noiseFloor = 1e-10
	opt.sectors = []int{-1, 1}
	return opt
}

// OrthTol sets the overlap below which a penalized state counts as
// orthogonal to the ground state. The default 0.1 is an empirical threshold.
func (opt GapOptions) OrthTol(tol float64) GapOptions {
	opt.orthTol = tol
	return opt
}

// HighOverlap sets the overlap above which a sector solve is discarded as a
// collapse back onto the ground state.
func (opt GapOptions) HighOverlap(overlap float64) GapOptions {
	opt.highOverlap = overlap
	return opt
}

// Retries sets the perturbed retry budget of the orthogonal penalty strategy.
func (opt GapOptions) Retries(n int) GapOptions {
	opt.retries = n
	return opt
}

// GateCount sets the number of random two site gates applied per retry.
func (opt GapOptions) GateCount(n int) GapOptions {
	opt.gateCount = n
	return opt
}

// NoiseFloor sets the positivity floor of gap candidates.
func (opt GapOptions) NoiseFloor(floor float64) GapOptions {
	opt.noiseFloor = floor
	return opt
}

// Sectors sets the spin projection offsets scanned for excited states.
func (opt GapOptions) Sectors(sectors ...int) GapOptions {
	opt.sectors = sectors
	return opt
}

// Engine estimates excitation gaps by driving an oracle through competing
// strategies and reconciling their candidates.
// All randomness flows from the injected source, so two engines built with
// the same seed and oracle produce the same estimate.
type Engine struct {
	oracle Oracle
	rng    *rand.Rand
	opt    GapOptions
}

// NewEngine returns an engine over oracle.
func NewEngine(oracle Oracle, rng *rand.Rand, options ...GapOptions) *Engine {
	opt := NewGapOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	return &Engine{oracle: oracle, rng: rng, opt: opt}
}

// candidate is a gap candidate from one strategy.
type candidate struct {
	value  float64
	method Method
	valid  bool
}

// EstimateGap estimates the energy gap between the ground and first excited
// states of the chain.
// Oracle divergence is the only error condition. Failure to find a usable
// candidate is reported through the returned status instead.
func (e *Engine) EstimateGap(spec ChainSpec, cfg SolverConfig) (Gap, error) {
	if err := spec.Validate(); err != nil {
		return Gap{}, errors.Wrap(err, "")
	}
	if err := cfg.Validate(); err != nil {
		return Gap{}, errors.Wrap(err, "")
	}

	hamiltonian, buf := mat.COOZeros(1, 1), mat.COOZeros(1, 1)
	if err := Heisenberg(hamiltonian, buf, spec); err != nil {
		return Gap{}, errors.Wrap(err, "")
	}

	guess, err := RandGuess(e.rng, spec)
	if err != nil {
		return Gap{}, errors.Wrap(err, "")
	}
	ground, err := e.oracle.SolveGroundState(hamiltonian, guess, cfg)
	if err != nil {
		return Gap{}, errors.Wrap(err, "")
	}

	// Split off a random source per strategy before spawning, so that the
	// estimate does not depend on goroutine scheduling.
	penaltyRng := rand.New(rand.NewPCG(e.rng.Uint64(), e.rng.Uint64()))

	// A wavefunction is not safe for concurrent use, so each strategy
	// takes its own copy of the ground state.
	penaltyGround := Result{Energy: ground.Energy, State: ground.State.Clone()}
	sectorGround := Result{Energy: ground.Energy, State: ground.State.Clone()}

	var cands [2][]candidate
	g := &errgroup.Group{}
	g.Go(func() error {
		var err error
		cands[0], err = e.orthogonalPenalty(hamiltonian, spec, cfg, penaltyGround, penaltyRng)
		return err
	})
	g.Go(func() error {
		var err error
		cands[1], err = e.sectorScan(hamiltonian, spec, cfg, sectorGround)
		return err
	})
	if err := g.Wait(); err != nil {
		return Gap{}, errors.Wrap(err, "")
	}

	return reconcile(append(cands[0], cands[1]...), e.opt.noiseFloor), nil
}

// orthogonalPenalty searches for the first excited state by penalizing
// overlap with the ground state.
// A solve whose ground state overlap exceeds the orthogonality threshold is
// retried a bounded number of times from randomly perturbed guesses.
func (e *Engine) orthogonalPenalty(h *mat.COO, spec ChainSpec, cfg SolverConfig, ground Result, rng *rand.Rand) ([]candidate, error) {
	if cfg.PenaltyWeight == 0 {
		cfg.PenaltyWeight = defaultPenaltyWeight(spec)
	}
	d, err := spec.Spin.Dim()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	solve := func(vec []complex64, ref *mps.MPS) (Result, float64, error) {
		guess, err := mps.FromDense(vec, spec.Length, d)
		if err != nil {
			return Result{}, 0, errors.Wrap(err, "")
		}
		trialCfg := cfg
		trialCfg.References = []*mps.MPS{ref}
		r, err := e.oracle.SolveExcitedState(h, trialCfg.References, guess, trialCfg)
		if err != nil {
			return Result{}, 0, errors.Wrap(err, "")
		}
		return r, abs(r.State.InnerProduct(ref)), nil
	}

	first, overlap, err := solve(randState(rng, spec.Dim()), ground.State)
	if err != nil {
		return nil, err
	}
	if overlap <= e.opt.orthTol {
		return []candidate{{value: first.Energy - ground.Energy, method: MethodOrthogonalPenalty, valid: true}}, nil
	}

	type trial struct {
		r  Result
		ok bool
	}
	trials := make([]trial, e.opt.retries)
	seeds := make([][2]uint64, e.opt.retries)
	refs := make([]*mps.MPS, e.opt.retries)
	for i := range seeds {
		seeds[i] = [2]uint64{rng.Uint64(), rng.Uint64()}
		// Trials run concurrently, so each gets its own reference copy.
		refs[i] = ground.State.Clone()
	}
	g := &errgroup.Group{}
	for i := range trials {
		g.Go(func() error {
			trialRng := rand.New(rand.NewPCG(seeds[i][0], seeds[i][1]))
			vec := perturb(trialRng, randState(trialRng, spec.Dim()), spec.Length, d, e.opt.gateCount)
			r, overlap, err := solve(vec, refs[i])
			if err != nil {
				return err
			}
			trials[i] = trial{r: r, ok: overlap <= e.opt.orthTol}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best, bestE := candidate{}, 0.0
	for _, t := range trials {
		if !t.ok {
			continue
		}
		if !best.valid || t.r.Energy < bestE {
			bestE = t.r.Energy
			best = candidate{value: t.r.Energy - ground.Energy, method: MethodOrthogonalPenalty, valid: true}
		}
	}
	if !best.valid {
		return nil, nil
	}
	return []candidate{best}, nil
}

// sectorScan solves for ground states of neighbouring total spin projection
// sectors.
// The Hamiltonian conserves the total projection, so an oracle seeded with a
// product state of a given sector stays in that sector.
func (e *Engine) sectorScan(h *mat.COO, spec ChainSpec, cfg SolverConfig, ground Result) ([]candidate, error) {
	best, bestE := candidate{}, 0.0
	for _, dSz := range e.opt.sectors {
		guess, err := sectorGuess(spec, dSz)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		r, err := e.oracle.SolveGroundState(h, guess, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}

		// Discard solves that collapsed back onto the ground state.
		if abs(r.State.InnerProduct(ground.State)) >= e.opt.highOverlap {
			continue
		}
		if !best.valid || r.Energy < bestE {
			bestE = r.Energy
			best = candidate{value: r.Energy - ground.Energy, method: MethodSectorScan, valid: true}
		}
	}
	if !best.valid {
		return nil, nil
	}
	return []candidate{best}, nil
}

// reconcile selects the smallest strictly positive candidate beyond the
// noise floor. Candidates at or below the floor clamp to zero, and an empty
// candidate set yields the non convergent zero fallback.
func reconcile(cands []candidate, noiseFloor float64) Gap {
	best := Gap{Status: StatusNonConvergent}
	var clamped Method
	for _, c := range cands {
		if !c.valid {
			continue
		}
		if c.value <= noiseFloor {
			clamped = c.method
			continue
		}
		if best.Status != StatusOK || c.value < best.Value {
			best = Gap{Value: c.value, Status: StatusOK, Method: c.method}
		}
	}
	if best.Status == StatusOK {
		return best
	}
	if clamped != "" {
		return Gap{Status: StatusClamped, Method: clamped}
	}
	return Gap{Status: StatusNonConvergent}
}

// defaultPenaltyWeight is large enough to push the penalized ground state
// well above the physical excitation energies.
func defaultPenaltyWeight(spec ChainSpec) float64 {
	w := 20 * math.Abs(spec.J)
	if w == 0 {
		w = 1
	}
	return w
}
