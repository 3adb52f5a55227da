// Package normalize cleans extracted page text before it reaches the lexical index.
//
// Extracted text is routinely damaged: words are hyphenated across line
// breaks, letters drift away from the word they belong to, whitespace is
// inconsistent, and running headers/footers repeat on every page. The
// pipeline repairs these deterministically, in order:
//
//  1. dehyphenation of line-break splits with a lowercase continuation
//  2. rejoin of spurious single-letter and fragment splits (see Rejoiner)
//  3. whitespace normalization
//  4. document-level header/footer stripping (clean text only)
//
// Normalization never fails. Unexpected input comes back whitespace-normalized.
package normalize
