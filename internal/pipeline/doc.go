// Package pipeline defines the four content stages as stage descriptors:
// Scout gathers source material, Architect writes the script, Humanizer
// renders and perturbs the artifact, and Distributor prepares publishing
// metadata plus the manifest.
//
// Descriptors only plan calls and combine replies; the capability executor
// owns provider selection, retries and caching.
package pipeline
