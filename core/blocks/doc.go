// Package blocks normalizes price series of arbitrary granularity into the
// contiguous fixed-duration blocks the planner works on. Intervals that are a
// whole multiple of the target duration are split without interpolation;
// anything else is kept with a deviation note.
package blocks
