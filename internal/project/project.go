package project

import (
	"strings"

	"teststability/internal/recorder"
	"teststability/internal/stability"
)

// Job is a validated job configuration.
type Job struct {
	Name          string
	Secret        string
	HistoryLength int
	Filters       []string
	Reconcile     stability.ReconcileMode
	IgnoreKeyword string
	IgnoreAuthor  string
	Repository    string // owner/repo on GitHub, optional
}

// JobConfig represents the YAML configuration for a job
type JobConfig struct {
	Secret        string   `yaml:"secret"`
	HistoryLength int      `yaml:"history_length"`
	Filters       []string `yaml:"filters"`
	Reconcile     string   `yaml:"reconcile"`
	IgnoreKeyword string   `yaml:"ignore_keyword"`
	IgnoreAuthor  string   `yaml:"ignore_author"`
	Repository    string   `yaml:"repository"`
}

// Config represents the root configuration structure
type Config struct {
	HistoryLength int                  `yaml:"history_length"`
	Jobs          map[string]JobConfig `yaml:"jobs"`
}

// ShouldIgnore reports whether a build should be skipped because its commit
// message carries the job's ignore keyword or it was authored by the
// ignored author. The reason is empty when the build is kept.
func (j *Job) ShouldIgnore(author, message string) (bool, string) {
	if j.IgnoreKeyword != "" && strings.Contains(message, j.IgnoreKeyword) {
		return true, "commit message keyword"
	}
	if j.IgnoreAuthor != "" && author == j.IgnoreAuthor {
		return true, "author"
	}
	return false, ""
}

// RecorderOptions returns the options used to record builds of the job.
func (j *Job) RecorderOptions() recorder.Options {
	filters := make([]string, len(j.Filters))
	copy(filters, j.Filters)
	return recorder.Options{
		HistoryLength: j.HistoryLength,
		Filters:       filters,
		Mode:          j.Reconcile,
	}
}
