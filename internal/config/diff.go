package config

import "slices"

// Diff describes what changed between two configs. Only the keys that are
// safe to apply without restarting the pipeline are tracked; everything else
// requires a process restart.
type Diff struct {
	// LogLevelChanged reports a logging.level change; NewLogLevel carries
	// the new value.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VocabularyChanged reports a correction.vocabulary change;
	// NewVocabulary carries the new list.
	VocabularyChanged bool
	NewVocabulary     []string
}

// Any reports whether the diff carries at least one change.
func (d Diff) Any() bool {
	return d.LogLevelChanged || d.VocabularyChanged
}

// Compare returns the hot-reloadable differences between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Logging.Level != new.Logging.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Logging.Level
	}

	if !slices.Equal(old.Correction.Vocabulary, new.Correction.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Correction.Vocabulary)
	}

	return d
}
