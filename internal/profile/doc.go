// Package profile stores calibrated per-vowel MFCC statistics.
//
// Each vowel accumulates a running mean and population variance using
// Welford's online algorithm. A vowel with no samples is uncalibrated and
// is never reported by Statistics. Profiles persist as YAML documents.
package profile
