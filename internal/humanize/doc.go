// Package humanize injects bounded, seeded imperfection into a rendered
// artifact.
//
// Plan generation and application are separate: GeneratePlan draws every
// random value from a PCG generator seeded by the caller and clamps each one
// to Bounds as it is drawn; Apply is a pure function of the artifact and the
// plan. Humanize composes the two. Operations that cannot satisfy their
// constraints are skipped and recorded in Plan.Skipped instead of violating
// a bound.
package humanize
