// Package mfcc extracts Mel-Frequency Cepstral Coefficients from fixed-length audio windows.
// Each window goes through pre-emphasis, a Hamming window, a real FFT, a triangular mel
// filter bank, a log10 and a DCT-II; cepstral coefficients 1..12 are kept.
package mfcc
