// Package fileutil provides small file-system helpers used when preparing
// per-worker data directories and the run journal's parent directory.
package fileutil
