// Package kde implements a nonparametric kernel-density background model for
// video frames.
//
// Responsibilities: per-pixel sample reservoir, temporal buffer of recent
// frames, consecutive-difference histograms, data-driven bandwidth
// estimation, a precomputed Gaussian kernel table, density classification
// with early termination and the reservoir replacement policy.
// Key types: Model, Params, KernelTable.
//
// A Model moves through Learning, Estimating and Steady states exactly once.
// Frames are ingested with AddFrame while learning; once the reservoir is full
// the bandwidths are estimated and every later frame goes through
// ClassifyAndUpdate. A Model is owned by one goroutine; classification and
// update fan out across rows internally.
package kde
