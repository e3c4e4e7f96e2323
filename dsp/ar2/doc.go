// Package ar2 models a calcium fluorescence transient as the impulse
// response of a causal two-pole (AR(2)) recursive filter.
//
// The filter c[t] = g1*c[t-1] + g2*c[t-2] + s[t] is the O(T) equivalent of
// convolving a spike train s with a biexponential kernel parameterized by a
// rise and a decay time constant. The coefficients are derived from the time
// constants and the sampling rate:
//
//	d  = exp(-dt/tauDecay)
//	r  = exp(-dt/tauRise)
//	g1 = d + r
//	g2 = -d*r
//
// The raw AR(2) impulse peak grows with the sampling rate because the
// recursion accumulates over more timesteps during the rise phase. Both the
// forward and the adjoint convolution are therefore normalized by the impulse
// peak, so that an isolated unit spike always produces a peak response of 1.0
// and fitted amplitudes are rate-independent.
//
// [Filter.OperatorNorm] returns the squared spectral norm of the normalized
// operator, the Lipschitz constant needed by gradient-based solvers.
package ar2
