// Package textutil detects near-duplicate source items by comparing
// term-frequency vectors of their text.
package textutil
