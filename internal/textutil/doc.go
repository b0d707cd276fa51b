// Package textutil provides text normalization helpers for slugs and
// filesystem-safe names. Slugs are lowercase ASCII with hyphen separators;
// diacritics are folded before stripping so accented names keep their
// letters.
package textutil
