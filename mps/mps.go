// Package mps implements a Matrix Product State wavefunction handle for
// one-dimensional spin chains.
//
// A handle supports explicit canonicalization of its orthogonality center,
// inner products, local and two-point expectations, and bond-resolved
// Schmidt spectra. Canonical form does not persist across operations that
// move the center; operations that need a particular center set it
// themselves.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package mps

import (
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// mpsLeftAxis is the axis of a_{l-1} in Figure 6, Ulrich Schollwock.
	mpsLeftAxis  = 0
	mpsUpAxis    = 1
	mpsRightAxis = 2

	// Machine precision.
	epsilon = 0x1p-23
)

// MPS is a matrix product state wavefunction.
// A wavefunction is exclusively owned by the call that produced it, and its
// methods are not safe for concurrent use.
type MPS struct {
	sites  []*tensor.Dense
	physD  int
	center int

	bufs [3]*tensor.Dense
}

// FromDense creates a matrix product state from a dense state vector of
// length physD^length, with site 1 as the most significant basis digit.
func FromDense(vec []complex64, length, physD int) (*MPS, error) {
	if length < 2 || physD < 2 {
		return nil, errors.Errorf("%d %d", length, physD)
	}
	dim := 1
	for range length {
		dim *= physD
	}
	if len(vec) != dim {
		return nil, errors.Errorf("%d %d", len(vec), dim)
	}

	shape := make([]int, length)
	for i := range shape {
		shape[i] = physD
	}
	state := tensor.Zeros(shape...)
	i := 0
	for ijk := range state.All() {
		state.SetAt(ijk, vec[i])
		i++
	}

	psi := &MPS{physD: physD, bufs: newBufs()}
	bufs := [2]*tensor.Dense{psi.bufs[0], psi.bufs[1]}
	sites := make([]*tensor.Dense, 0, length)
	var leftD int = 1
	for _, physD := range shape[:len(shape)-1] {
		q := tensor.Zeros(1)
		r := tensor.QR(q, state.Reshape(leftD*physD, -1), bufs)

		leftD = r.Shape()[0]
		state = r

		sites = append(sites, q.Reshape(-1, physD, leftD))
	}
	state = state.Reshape(leftD, shape[len(shape)-1], 1)
	sites = append(sites, resetCopy(tensor.Zeros(1), state))

	psi.sites = sites
	psi.center = length - 1
	return psi, nil
}

// Len returns the number of sites.
func (psi *MPS) Len() int { return len(psi.sites) }

// PhysD returns the local physical dimension.
func (psi *MPS) PhysD() int { return psi.physD }

// MaxBondDim returns the largest bond dimension of the state.
func (psi *MPS) MaxBondDim() int {
	d := 1
	for _, m := range psi.sites[:len(psi.sites)-1] {
		if r := m.Shape()[mpsRightAxis]; r > d {
			d = r
		}
	}
	return d
}

// Clone returns a deep copy of the state.
func (psi *MPS) Clone() *MPS {
	c := &MPS{physD: psi.physD, center: psi.center, bufs: newBufs()}
	c.sites = make([]*tensor.Dense, 0, len(psi.sites))
	for _, m := range psi.sites {
		c.sites = append(c.sites, resetCopy(tensor.Zeros(1), m))
	}
	return c
}

// Canonicalize moves the orthogonality center to the given site, leaving
// sites to its left left-normalized and sites to its right right-normalized.
// See Section 4.4 Canonical forms, Ulrich Schollwock.
func (psi *MPS) Canonicalize(center int) error {
	if center < 0 || center >= len(psi.sites) {
		return errors.Errorf("%d %d", center, len(psi.sites))
	}
	for i := len(psi.sites) - 1; i >= center+1; i-- {
		psi.rightNormalize(i)
	}
	for i := 0; i < center; i++ {
		psi.leftNormalize(i)
	}
	psi.center = center
	return nil
}

// InnerProduct computes the inner product <x|y>.
// See Section 4.2.1 Efficient evaluation of contractions, Ulrich Schollwock.
func (x *MPS) InnerProduct(y *MPS) complex64 {
	if len(x.sites) != len(y.sites) {
		panic(fmt.Sprintf("%d %d", len(x.sites), len(y.sites)))
	}

	f := ones(x.bufs[0], 1, 1)
	const fTopAxis, fBottomAxis = 0, 1
	for i, xi := range x.sites {
		yi := y.sites[i]

		fyi := tensor.Product(x.bufs[1], f, yi, [][2]int{{fBottomAxis, mpsLeftAxis}})
		f = tensor.Product(x.bufs[0], xi.Conj(), fyi, [][2]int{{mpsLeftAxis, fTopAxis}, {mpsUpAxis, mpsUpAxis}})
	}

	if !slices.Equal(f.Shape(), []int{1, 1}) {
		panic(fmt.Sprintf("%#v", f.Shape()))
	}
	return f.At(0, 0)
}

// Norm returns the 2-norm of the state.
func (psi *MPS) Norm() float64 {
	return math.Sqrt(abs(psi.InnerProduct(psi)))
}

// ToDense contracts the state back into a dense vector, with site 1 as the
// most significant basis digit.
func (psi *MPS) ToDense() []complex64 {
	p, buf := tensor.Zeros(1), tensor.Zeros(1)

	// mmi is the product of m0 @ m1 @ ... mi.
	var mmi *tensor.Dense
	mmiPrev := buf
	resetCopy(mmiPrev, psi.sites[0])
	for _, mi := range psi.sites[1:] {
		if mmiPrev == buf {
			mmi = p
		} else {
			mmi = buf
		}
		axes := [][2]int{{len(mmiPrev.Shape()) - 1, 0}}
		tensor.Product(mmi, mmiPrev, mi, axes)

		mmiPrev = mmi
	}
	if mmi == buf {
		resetCopy(p, mmi)
	}

	dim := 1
	for range psi.sites {
		dim *= psi.physD
	}
	vec := make([]complex64, 0, dim)
	for _, v := range p.All() {
		vec = append(vec, v)
	}
	return vec
}

// ExpectationAt returns the expectation value of a local operator at the
// given site. The orthogonality center is moved to the site first, so that
// the expectation reduces to a single-site contraction.
func (psi *MPS) ExpectationAt(site int, op [][]complex64) (float64, error) {
	if site < 0 || site >= len(psi.sites) {
		return 0, errors.Errorf("%d %d", site, len(psi.sites))
	}
	if err := psi.Canonicalize(site); err != nil {
		return 0, errors.Wrap(err, "")
	}

	m := psi.sites[site]
	om := applyLocal(tensor.T2(op), m)
	var val, nrm complex64
	for ijk, v := range m.All() {
		val += conj(v) * om.At(ijk...)
		nrm += conj(v) * v
	}
	if abs(nrm) < epsilon {
		return 0, errors.Errorf("%f", nrm)
	}
	return float64(real(val / nrm)), nil
}

// Correlation returns the two-point expectation <O_i O_j> by a transfer
// contraction over the whole chain. The state is not modified.
func (psi *MPS) Correlation(op [][]complex64, i, j int) (float64, error) {
	n := len(psi.sites)
	if i < 0 || i >= n || j < 0 || j >= n {
		return 0, errors.Errorf("%d %d %d", i, j, n)
	}

	opT := tensor.T2(op)
	f := ones(tensor.Zeros(1), 1, 1)
	buf := tensor.Zeros(1)
	const fTopAxis, fBottomAxis = 0, 1
	for k, mk := range psi.sites {
		yk := mk
		if k == i {
			yk = applyLocal(opT, yk)
		}
		if k == j {
			yk = applyLocal(opT, yk)
		}

		fyk := tensor.Product(buf, f, yk, [][2]int{{fBottomAxis, mpsLeftAxis}})
		f = tensor.Product(f, mk.Conj(), fyk, [][2]int{{mpsLeftAxis, fTopAxis}, {mpsUpAxis, mpsUpAxis}})
	}
	corr := f.At(0, 0)

	nrm := psi.InnerProduct(psi)
	if abs(nrm) < epsilon {
		return 0, errors.Errorf("%f", nrm)
	}
	return float64(real(corr / nrm)), nil
}

// SchmidtSpectrum returns the Schmidt coefficients across the cut between
// sites bond and bond+1, in descending order. Sites are 1-indexed, so
// physical cuts are 1 <= bond <= Len()-1.
func (psi *MPS) SchmidtSpectrum(bond int) ([]float64, error) {
	n := len(psi.sites)
	if bond < 1 || bond >= n {
		return nil, errors.Errorf("%d %d", bond, n)
	}
	c := bond - 1
	if err := psi.Canonicalize(c); err != nil {
		return nil, errors.Wrap(err, "")
	}

	s := psi.sites[c].Shape()
	m := psi.sites[c].Reshape(s[0]*s[1], s[2])
	vals := singularValues(m)
	psi.sites[c] = m.Reshape(s[0], s[1], s[2])
	return vals, nil
}

// Truncate discards Schmidt components whose relative weight is below
// cutoff and caps every bond dimension at maxDim, renormalizing the state.
func (psi *MPS) Truncate(maxDim int, cutoff float64) error {
	if maxDim < 1 || cutoff < 0 {
		return errors.Errorf("%d %f", maxDim, cutoff)
	}
	if err := psi.Canonicalize(0); err != nil {
		return errors.Wrap(err, "")
	}

	for i := 0; i < len(psi.sites)-1; i++ {
		s := psi.sites[i].Shape()
		m := psi.sites[i].Reshape(s[0]*s[1], s[2])
		u := leftVectors(m, maxDim, cutoff)
		k := u.Shape()[1]

		// c = u.H @ m carries the discarded gauge into the next site.
		c := tensor.Product(tensor.Zeros(1), u.Conj(), m, [][2]int{{0, 0}})
		psi.sites[i] = resetCopy(tensor.Zeros(1), u).Reshape(s[0], s[1], k)
		next := tensor.Product(tensor.Zeros(1), c, psi.sites[i+1], [][2]int{{1, mpsLeftAxis}})
		psi.sites[i+1] = resetCopy(tensor.Zeros(1), next)
	}
	psi.center = len(psi.sites) - 1

	nrm := psi.Norm()
	if nrm < epsilon {
		return errors.Errorf("%f", nrm)
	}
	last := psi.sites[len(psi.sites)-1]
	for ijk, v := range last.All() {
		last.SetAt(ijk, v/complex(float32(nrm), 0))
	}
	return nil
}

// rightNormalize normalizes a site from the right, multiplying the gauge
// into its left neighbor.
// See Section 4.4.2 Generation of a right-canonical MPS, Ulrich Schollwock.
func (psi *MPS) rightNormalize(i int) {
	ms := psi.sites
	s := ms[i].Shape()
	dUp, dRight := s[mpsUpAxis], s[mpsRightAxis]

	// Decompose ms[i] = l @ q.H.
	mi := ms[i].Reshape(s[mpsLeftAxis], dUp*dRight)
	q, lqbufs := psi.bufs[0], [2]*tensor.Dense{psi.bufs[1], psi.bufs[2]}
	l := lq(q, mi, lqbufs)

	// ms[i-1] = ms[i-1] @ l.
	axes := [][2]int{{mpsRightAxis, 0}}
	resetCopy(ms[i-1], tensor.Product(psi.bufs[1], ms[i-1], l, axes))

	// ms[i] = q.H.
	ms[i] = resetCopy(ms[i], q.H()).Reshape(-1, dUp, dRight)
}

func (psi *MPS) leftNormalize(i int) {
	ms := psi.sites
	s := ms[i].Shape()
	dLeft, dUp := s[mpsLeftAxis], s[mpsUpAxis]

	// Decompose ms[i] = q @ r.
	mi := ms[i].Reshape(dLeft*dUp, s[mpsRightAxis])
	q, qrbufs := psi.bufs[0], [2]*tensor.Dense{psi.bufs[1], psi.bufs[2]}
	r := tensor.QR(q, mi, qrbufs)

	// ms[i+1] = r @ ms[i+1].
	axes := [][2]int{{1, mpsLeftAxis}}
	resetCopy(ms[i+1], tensor.Product(psi.bufs[1], r, ms[i+1], axes))

	// ms[i] = q.
	ms[i] = resetCopy(ms[i], q).Reshape(dLeft, dUp, -1)
}

func lq(q, a *tensor.Dense, bufs [2]*tensor.Dense) *tensor.Dense {
	r := tensor.QR(q, a.H(), bufs)
	return r.H()
}

// applyLocal applies a local operator to the physical axis of a site,
// returning a fresh tensor of the same axis order.
func applyLocal(op, m *tensor.Dense) *tensor.Dense {
	om := tensor.Product(tensor.Zeros(1), op, m, [][2]int{{1, mpsUpAxis}})
	return resetCopy(tensor.Zeros(1), om.Transpose(1, 0, 2))
}

// singularValues returns the singular values of a matrix in descending
// order. They are obtained from the eigenvalues of the Hermitian gram
// matrix, solved through its real symmetric embedding where every
// eigenvalue appears twice.
func singularValues(m *tensor.Dense) []float64 {
	s := m.Shape()
	rows, cols := s[0], s[1]

	rho := gram(m, rows <= cols)
	evals, _ := symEigen(rho, false)

	k := min(rows, cols)
	vals := make([]float64, 0, k)
	for i := 0; i < k; i++ {
		lambda := evals[len(evals)-1-2*i]
		if lambda < 0 {
			lambda = 0
		}
		vals = append(vals, math.Sqrt(lambda))
	}
	return vals
}

// leftVectors returns the dominant left singular vectors of m as a
// rows x k matrix, keeping at most maxDim vectors and dropping those whose
// squared singular value has relative weight below cutoff.
func leftVectors(m *tensor.Dense, maxDim int, cutoff float64) *tensor.Dense {
	s := m.Shape()
	rows, cols := s[0], s[1]

	rho := tensor.Product(tensor.Zeros(1), m, m.Conj(), [][2]int{{1, 1}})
	evals, evecs := symEigen(rho, true)
	n := rows

	var total float64
	for i := 0; i < min(rows, cols); i++ {
		if lambda := evals[len(evals)-1-2*i]; lambda > 0 {
			total += lambda
		}
	}

	// The embedding doubles every eigenvector; greedily keep one complex
	// direction per pair via Gram-Schmidt against the kept set.
	kMax := min(rows, cols, maxDim)
	kept := make([][]complex128, 0, kMax)
	for idx := len(evals) - 1; idx >= 0 && len(kept) < kMax; idx-- {
		lambda := evals[idx]
		if lambda <= 0 {
			break
		}
		if total > 0 && lambda/total < cutoff && len(kept) >= 1 {
			break
		}

		u := make([]complex128, n)
		for i := range u {
			u[i] = complex(evecs.At(i, idx), evecs.At(i+n, idx))
		}
		for _, w := range kept {
			var ip complex128
			for i := range u {
				ip += cmplx.Conj(w[i]) * u[i]
			}
			for i := range u {
				u[i] -= ip * w[i]
			}
		}
		var norm float64
		for _, v := range u {
			norm += real(v)*real(v) + imag(v)*imag(v)
		}
		norm = math.Sqrt(norm)
		if norm < 0.5 {
			// Duplicate of an already kept direction.
			continue
		}
		for i := range u {
			u[i] /= complex(norm, 0)
		}
		kept = append(kept, u)
	}
	if len(kept) == 0 {
		e0 := make([]complex128, n)
		e0[0] = 1
		kept = append(kept, e0)
	}

	u := tensor.Zeros(rows, len(kept))
	for j, w := range kept {
		for i, v := range w {
			u.SetAt([]int{i, j}, complex64(v))
		}
	}
	return u
}

// gram returns m@m.H when left is true, and m.H@m otherwise.
func gram(m *tensor.Dense, left bool) *tensor.Dense {
	if left {
		return tensor.Product(tensor.Zeros(1), m, m.Conj(), [][2]int{{1, 1}})
	}
	return tensor.Product(tensor.Zeros(1), m.Conj(), m, [][2]int{{0, 0}})
}

// symEigen diagonalizes a Hermitian matrix given as a tensor, through the
// real symmetric embedding [[Re, -Im], [Im, Re]]. Eigenvalues are returned
// in ascending order.
func symEigen(rho *tensor.Dense, vectors bool) ([]float64, *mat.Dense) {
	n := rho.Shape()[0]
	data := make([]float64, 4*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := rho.At(i, j)
			re, im := float64(real(v)), float64(imag(v))
			data[i*2*n+j] = re
			data[i*2*n+j+n] = -im
			data[(i+n)*2*n+j] = im
			data[(i+n)*2*n+j+n] = re
		}
	}
	sym := mat.NewSymDense(2*n, data)

	var es mat.EigenSym
	if ok := es.Factorize(sym, vectors); !ok {
		panic("eigensym.Factorize failed")
	}
	evals := es.Values(nil)
	if !vectors {
		return evals, nil
	}
	var evecs mat.Dense
	es.VectorsTo(&evecs)
	return evals, &evecs
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}

func ones(t *tensor.Dense, shape ...int) *tensor.Dense {
	t.Reset(shape...)
	for ijk := range t.All() {
		t.SetAt(ijk, 1)
	}
	return t
}

func newBufs() [3]*tensor.Dense {
	return [3]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1), tensor.Zeros(1)}
}

func conj(x complex64) complex64 {
	return complex(real(x), -imag(x))
}

func abs(x complex64) float64 {
	return cmplx.Abs(complex128(x))
}
