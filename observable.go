package spingap

import (
	"math"

	"github.com/pkg/errors"

	"spingap/mat"
	"spingap/mps"
)

// Point is one entry of an observable profile.
type Point struct {
	// Index is the 1-indexed site or bond.
	Index int
	// Value is the observable at Index.
	Value float64
}

// Profile is an ordered sequence of per site or per bond observables.
type Profile []Point

// EntanglementEntropy returns the von Neumann entanglement entropy across
// bond, the cut between 1-indexed sites bond and bond+1.
// Boundary bonds carry no extensive entanglement and are rejected with
// ErrInvalidBond, leaving the valid range [2, length-1].
func EntanglementEntropy(psi *mps.MPS, bond int) (float64, error) {
	n := psi.Len()
	if bond < 2 || bond >= n {
		return 0, errors.Wrapf(ErrInvalidBond, "%d %d", bond, n)
	}
	schmidt, err := psi.SchmidtSpectrum(bond)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return entropy(schmidt), nil
}

// EntropyProfile returns the entanglement entropy at every interior bond.
func EntropyProfile(psi *mps.MPS) (Profile, error) {
	profile := make(Profile, 0, psi.Len()-2)
	for bond := 2; bond < psi.Len(); bond++ {
		h, err := EntanglementEntropy(psi, bond)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		profile = append(profile, Point{Index: bond, Value: h})
	}
	return profile, nil
}

// MagnetizationProfile returns the local magnetization <S^z_i> at every site.
func MagnetizationProfile(psi *mps.MPS) (Profile, error) {
	sz := mat.SpinZ(psi.PhysD())
	profile := make(Profile, 0, psi.Len())
	for i := 1; i <= psi.Len(); i++ {
		v, err := psi.ExpectationAt(i-1, sz)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		profile = append(profile, Point{Index: i, Value: v})
	}
	return profile, nil
}

// CorrelationProfile returns the two point correlator <S^z_ref S^z_j> for
// every site j. Sites are 1-indexed and psi is left unmodified.
func CorrelationProfile(psi *mps.MPS, refSite int) (Profile, error) {
	n := psi.Len()
	if refSite < 1 || refSite > n {
		return nil, errors.Errorf("%d %d", refSite, n)
	}
	sz := mat.SpinZ(psi.PhysD())
	profile := make(Profile, 0, n)
	for j := 1; j <= n; j++ {
		v, err := psi.Correlation(sz, refSite-1, j-1)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		profile = append(profile, Point{Index: j, Value: v})
	}
	return profile, nil
}

// entropy computes -sum p*log(p) over the squared Schmidt spectrum.
// Values below a numerical floor are discarded and the rest renormalized, so
// that exact zeros from truncated bonds do not produce NaNs.
func entropy(schmidt []float64) float64 {
	const floor = 1e-12
	var total float64
	ps := make([]float64, 0, len(schmidt))
	for _, s := range schmidt {
		if s < floor {
			continue
		}
		p := s * s
		ps = append(ps, p)
		total += p
	}
	var h float64
	for _, p := range ps {
		p /= total
		h -= p * math.Log(p)
	}
	return h
}
