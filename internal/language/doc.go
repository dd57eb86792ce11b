// Package language implements language-tag normalization and target-language
// sets. Tags are reduced to their lower-cased primary subtag (e.g. "pt-BR"
// becomes "pt") so that listener preferences expressed with different region
// variants collapse into a single recognition target.
package language
