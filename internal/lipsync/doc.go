// Package lipsync schedules real-time vowel analysis for live audio streams.
//
// An Analyzer buffers the newest samples of one stream and, on every tick,
// either collects the finished analysis job or skips because the job is still
// running. A Manager owns the shared calibration profile, drives all analyzers
// from a single tick loop and removes streams that went quiet.
package lipsync
