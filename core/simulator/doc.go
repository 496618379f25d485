// Package simulator predicts the SOC trajectory and energy flows of a mode
// sequence. Simulate is pure and reentrant: strategies call it repeatedly
// while exploring alternatives and no state is shared between calls.
package simulator
