package spingap_test

import (
	"fmt"
	"math/rand/v2"

	"spingap"
	"spingap/solver"
)

func Example() {
	spec := spingap.ChainSpec{Length: 2, J: 1, Spin: spingap.SpinHalf}
	rng := rand.New(rand.NewPCG(1, 2))
	engine := spingap.NewEngine(solver.New(rng), rng)

	cfg := spingap.SolverConfig{Sweeps: 8, MaxDim: 16, Cutoff: 1e-8}
	gap, err := engine.EstimateGap(spec, cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("gap %.4f %s\n", gap.Value, gap.Status)
	// Output: gap 1.0000 ok
}
