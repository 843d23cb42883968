package solver

import (
	"log"
	"math"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/pkg/errors"

	"spingap"
	"spingap/mat"
	"spingap/mps"
)

func TestSolveGroundState(t *testing.T) {
	t.Parallel()
	spec := spingap.ChainSpec{Length: 2, J: 1, Spin: spingap.SpinHalf}
	h, buf := mat.COOZeros(1, 1), mat.COOZeros(1, 1)
	if err := spingap.Heisenberg(h, buf, spec); err != nil {
		t.Fatalf("%+v", err)
	}

	rng := rand.New(rand.NewPCG(25, 26))
	guess, err := spingap.RandGuess(rng, spec)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	res, err := New(rng).SolveGroundState(h, guess, testCfg())
	if err != nil {
		t.Fatalf("%+v", err)
	}

	if math.Abs(res.Energy+0.75) > 1e-3 {
		t.Fatalf("%f", res.Energy)
	}
	if nrm := res.State.Norm(); math.Abs(nrm-1) > 1e-4 {
		t.Fatalf("%f", nrm)
	}
	// The ground state is the singlet.
	singlet := singletState(t)
	if overlap := cAbs(res.State.InnerProduct(singlet)); math.Abs(overlap-1) > 1e-3 {
		t.Fatalf("%f", overlap)
	}
}

func TestSolveExcitedState(t *testing.T) {
	t.Parallel()
	spec := spingap.ChainSpec{Length: 2, J: 1, Spin: spingap.SpinHalf}
	h, buf := mat.COOZeros(1, 1), mat.COOZeros(1, 1)
	if err := spingap.Heisenberg(h, buf, spec); err != nil {
		t.Fatalf("%+v", err)
	}

	singlet := singletState(t)
	rng := rand.New(rand.NewPCG(27, 28))
	guess, err := spingap.RandGuess(rng, spec)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cfg := testCfg()
	cfg.PenaltyWeight = 20
	res, err := New(rng).SolveExcitedState(h, []*mps.MPS{singlet}, guess, cfg)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// The first excited level is the triplet.
	if math.Abs(res.Energy-0.25) > 1e-3 {
		t.Fatalf("%f", res.Energy)
	}
	if overlap := cAbs(res.State.InnerProduct(singlet)); overlap > 1e-2 {
		t.Fatalf("%f", overlap)
	}
}

// TestSectorPreservation checks that a guess inside a total spin projection
// sector stays there, since the Hamiltonian conserves the projection.
func TestSectorPreservation(t *testing.T) {
	t.Parallel()
	spec := spingap.ChainSpec{Length: 2, J: 1, Spin: spingap.SpinHalf}
	h, buf := mat.COOZeros(1, 1), mat.COOZeros(1, 1)
	if err := spingap.Heisenberg(h, buf, spec); err != nil {
		t.Fatalf("%+v", err)
	}

	// The projection +1 sector of two spins contains only the aligned
	// state at energy J/4.
	guess, err := mps.FromDense([]complex64{1, 0, 0, 0}, 2, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	rng := rand.New(rand.NewPCG(29, 30))
	res, err := New(rng).SolveGroundState(h, guess, testCfg())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(res.Energy-0.25) > 1e-4 {
		t.Fatalf("%f", res.Energy)
	}
}

func TestDeterminism(t *testing.T) {
	t.Parallel()
	spec := spingap.ChainSpec{Length: 4, J: 1, Spin: spingap.SpinHalf}
	h, buf := mat.COOZeros(1, 1), mat.COOZeros(1, 1)
	if err := spingap.Heisenberg(h, buf, spec); err != nil {
		t.Fatalf("%+v", err)
	}
	cfg := testCfg()
	cfg.Noise = 1e-2

	energies := make([]float64, 2)
	for i := range energies {
		rng := rand.New(rand.NewPCG(31, 32))
		guess, err := spingap.RandGuess(rng, spec)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		res, err := New(rng).SolveGroundState(h, guess, cfg)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		energies[i] = res.Energy
	}
	if energies[0] != energies[1] {
		t.Fatalf("%f %f", energies[0], energies[1])
	}
}

func TestDivergence(t *testing.T) {
	t.Parallel()
	inf := complex(float32(math.Inf(1)), 0)
	h := mat.M([][]complex64{
		{inf, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	})
	guess, err := mps.FromDense([]complex64{0.5, 0.5, 0.5, 0.5}, 2, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	rng := rand.New(rand.NewPCG(33, 34))
	_, err = New(rng).SolveGroundState(h, guess, testCfg())
	if errors.Cause(err) != spingap.ErrSolverDivergence {
		t.Fatalf("%+v", err)
	}
}

func testCfg() spingap.SolverConfig {
	return spingap.SolverConfig{Sweeps: 8, MaxDim: 16, Cutoff: 1e-8}
}

func singletState(t *testing.T) *mps.MPS {
	invSqrt2 := complex(float32(1/math.Sqrt2), 0)
	psi, err := mps.FromDense([]complex64{0, invSqrt2, -invSqrt2, 0}, 2, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return psi
}

func cAbs(c complex64) float64 {
	return math.Hypot(float64(real(c)), float64(imag(c)))
}

func TestMain(m *testing.M) {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
