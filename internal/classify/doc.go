// Package classify picks the calibrated vowel closest to an MFCC vector.
//
// Distances are normalized per coefficient by the calibrated variance, so a
// coefficient that varies a lot during calibration weighs less than a stable
// one. Quiet windows, an empty profile and far-away matches are reported
// through Status rather than errors.
package classify
