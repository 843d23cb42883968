// Package spingap estimates the lowest excitation gap and structural
// observables of one dimensional quantum Heisenberg spin chains.
//
// The Hamiltonian of a chain of N spins with exchange coupling J is
//
//	H = J * \sum_{i=1}^{N-1} S^z_i S^z_{i+1} + (S^+_i S^-_{i+1} + S^-_i S^+_{i+1}) / 2
//
// which in the S^z product basis is a real sparse matrix commuting with the
// total spin projection \sum_i S^z_i.
package spingap

import (
	"math"
	"math/cmplx"
	"math/rand/v2"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"spingap/mat"
	"spingap/mps"
)

// Spin labels the spin carried by each chain site.
type Spin string

const (
	SpinHalf Spin = "1/2"
	SpinOne  Spin = "1"
)

// Dim returns the dimension of the local Hilbert space.
func (s Spin) Dim() (int, error) {
	switch s {
	case SpinHalf:
		return 2, nil
	case SpinOne:
		return 3, nil
	}
	return 0, errors.Errorf("unknown spin %q", string(s))
}

// ChainSpec describes a nearest neighbour Heisenberg chain.
type ChainSpec struct {
	// Length is the number of sites.
	Length int
	// J is the exchange coupling. Positive J is antiferromagnetic.
	J float64
	// Spin is the spin of each site.
	Spin Spin
}

// Validate checks that the chain is well formed.
func (c ChainSpec) Validate() error {
	if c.Length < 2 {
		return errors.Errorf("length %d", c.Length)
	}
	if _, err := c.Spin.Dim(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Dim returns the dimension of the chain's Hilbert space.
func (c ChainSpec) Dim() int {
	d, err := c.Spin.Dim()
	if err != nil {
		panic(err)
	}
	dim := 1
	for i := 0; i < c.Length; i++ {
		dim *= d
	}
	return dim
}

// Heisenberg writes the Hamiltonian of the chain to hamiltonian.
// buf is scratch space for constructing the Kronecker products.
func Heisenberg(hamiltonian, buf *mat.COO, spec ChainSpec) error {
	if err := spec.Validate(); err != nil {
		return errors.Wrap(err, "")
	}
	d, err := spec.Spin.Dim()
	if err != nil {
		return errors.Wrap(err, "")
	}
	sz := mat.M(mat.SpinZ(d))
	sp := mat.M(mat.SpinRaise(d))
	sm := mat.M(mat.SpinLower(d))
	identity := mat.COOIdentity(d)
	j := complex(float32(spec.J), 0)

	dim := spec.Dim()
	hamiltonian.Zeros(dim, dim)
	for i := 0; i < spec.Length-1; i++ {
		coupling(hamiltonian, buf, identity, spec.Length, i, sz, sz, j)
		coupling(hamiltonian, buf, identity, spec.Length, i, sp, sm, j/2)
		coupling(hamiltonian, buf, identity, spec.Length, i, sm, sp, j/2)
	}
	return nil
}

// coupling adds coef * a_i * b_{i+1} to hamiltonian.
func coupling(hamiltonian, system, identity *mat.COO, length, i int, a, b *mat.COO, coef complex64) {
	system.Scalar(1)
	for k := 0; k < length; k++ {
		switch k {
		case i:
			system.Kron(a)
		case i + 1:
			system.Kron(b)
		default:
			system.Kron(identity)
		}
	}
	hamiltonian.Add(coef, system)
}

// RandGuess returns a normalized random wavefunction of the chain.
func RandGuess(rng *rand.Rand, spec ChainSpec) (*mps.MPS, error) {
	d, err := spec.Spin.Dim()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	vec := randState(rng, spec.Dim())
	psi, err := mps.FromDense(vec, spec.Length, d)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return psi, nil
}

// sectorGuess returns a product state whose total spin projection differs
// from that of the Neel pattern by dSz.
// Site 1 is the most significant digit of the basis index, and digit k of a
// site corresponds to the projection m = s - k.
func sectorGuess(spec ChainSpec, dSz int) (*mps.MPS, error) {
	d, err := spec.Spin.Dim()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	digits := make([]int, spec.Length)
	for i := range digits {
		if i%2 == 1 {
			digits[i] = d - 1
		}
	}
	switch {
	case dSz > 0:
		// Raising the projection of a site decrements its digit.
		left := dSz
		for i := range digits {
			for left > 0 && digits[i] > 0 {
				digits[i]--
				left--
			}
		}
		if left > 0 {
			return nil, errors.Errorf("sector %d out of range", dSz)
		}
	case dSz < 0:
		left := -dSz
		for i := range digits {
			for left > 0 && digits[i] < d-1 {
				digits[i]++
				left--
			}
		}
		if left > 0 {
			return nil, errors.Errorf("sector %d out of range", dSz)
		}
	}

	idx := 0
	for _, dg := range digits {
		idx = idx*d + dg
	}
	vec := make([]complex64, spec.Dim())
	vec[idx] = 1
	psi, err := mps.FromDense(vec, spec.Length, d)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return psi, nil
}

// perturb applies gates random two site unitaries at random bonds of vec and
// renormalizes.
func perturb(rng *rand.Rand, vec []complex64, length, d, gates int) []complex64 {
	for g := 0; g < gates; g++ {
		applyGate(rng, vec, length, d, rng.IntN(length-1))
	}
	nrm := norm(vec)
	for i := range vec {
		vec[i] /= complex(float32(nrm), 0)
	}
	return vec
}

// applyGate applies a Haar random unitary on the two sites across bond.
func applyGate(rng *rand.Rand, vec []complex64, length, d, bond int) {
	left, right := 1, 1
	for i := 0; i < bond; i++ {
		left *= d
	}
	for i := 0; i < length-bond-2; i++ {
		right *= d
	}
	dd := d * d

	state := tensor.Zeros(left, dd, right)
	i := 0
	for ijk := range state.All() {
		state.SetAt(ijk, vec[i])
		i++
	}

	// A random unitary from the QR of a random matrix.
	a := tensor.Zeros(dd, dd)
	for ijk := range a.All() {
		a.SetAt(ijk, complex(float32(rng.Float64()*2-1), float32(rng.Float64()*2-1)))
	}
	q := tensor.Zeros(1)
	tensor.QR(q, a, [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)})

	rotated := tensor.Product(tensor.Zeros(1), q, state, [][2]int{{1, 1}})
	out := tensor.Zeros(left, dd, right)
	out.Set([]int{0, 0, 0}, rotated.Transpose(1, 0, 2))
	i = 0
	for _, v := range out.All() {
		vec[i] = v
		i++
	}
}

func randState(rng *rand.Rand, dim int) []complex64 {
	vec := make([]complex64, dim)
	for i := range vec {
		vec[i] = complex(float32(rng.Float64()*2-1), float32(rng.Float64()*2-1))
	}
	nrm := norm(vec)
	for i := range vec {
		vec[i] /= complex(float32(nrm), 0)
	}
	return vec
}

func norm(vec []complex64) float64 {
	var nrm float64
	for _, v := range vec {
		nrm += float64(real(v))*float64(real(v)) + float64(imag(v))*float64(imag(v))
	}
	return math.Sqrt(nrm)
}

func abs(c complex64) float64 {
	return cmplx.Abs(complex128(c))
}
