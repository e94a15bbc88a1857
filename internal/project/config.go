package project

import (
	"fmt"
	"os"
	"strings"

	"teststability/internal/recorder"
	"teststability/internal/security"
	"teststability/internal/stability"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHistoryLength = recorder.DefaultHistoryLength
	MaxHistoryLength     = 1000
)

// LoadConfig loads and validates the configuration from a YAML file
func LoadConfig(configPath string) (*Config, map[string]*Job, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig validates YAML configuration and builds the job set.
func ParseConfig(data []byte) (*Config, map[string]*Job, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Empty YAML files leave the map nil.
	if config.Jobs == nil {
		config.Jobs = make(map[string]JobConfig)
	}

	defaultLength := config.HistoryLength
	if defaultLength == 0 {
		defaultLength = DefaultHistoryLength
	}
	if defaultLength < 0 || defaultLength > MaxHistoryLength {
		return nil, nil, fmt.Errorf("history_length must be between 1 and %d, got %d", MaxHistoryLength, config.HistoryLength)
	}

	jobs := make(map[string]*Job)
	for name, jobConfig := range config.Jobs {
		errors := ValidateJobConfig(name, jobConfig)
		if len(errors) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for job '%s':\n%s",
				name, strings.Join(errors, "\n"))
		}

		historyLength := jobConfig.HistoryLength
		if historyLength == 0 {
			historyLength = defaultLength
		}

		// Already validated above.
		mode, _ := stability.ParseReconcileMode(jobConfig.Reconcile)

		filters := make([]string, 0, len(jobConfig.Filters))
		filters = append(filters, jobConfig.Filters...)

		jobs[name] = &Job{
			Name:          name,
			Secret:        jobConfig.Secret,
			HistoryLength: historyLength,
			Filters:       filters,
			Reconcile:     mode,
			IgnoreKeyword: jobConfig.IgnoreKeyword,
			IgnoreAuthor:  jobConfig.IgnoreAuthor,
			Repository:    jobConfig.Repository,
		}
	}

	return &config, jobs, nil
}

// ValidateJobConfig validates a single job configuration
func ValidateJobConfig(name string, config JobConfig) []string {
	var errors []string

	if err := security.ValidateJobName(name); err != nil {
		errors = append(errors, fmt.Sprintf("  - Job '%s': %v", name, err))
	}

	if config.Secret == "" {
		errors = append(errors, fmt.Sprintf("  - Job '%s': missing required 'secret' field", name))
	} else if err := security.ValidateSecret(config.Secret); err != nil {
		errors = append(errors, fmt.Sprintf("  - Job '%s': %v", name, err))
	}

	if config.HistoryLength < 0 || config.HistoryLength > MaxHistoryLength {
		errors = append(errors, fmt.Sprintf("  - Job '%s': history_length must be between 1 and %d, got %d",
			name, MaxHistoryLength, config.HistoryLength))
	}

	if _, err := stability.ParseReconcileMode(config.Reconcile); err != nil {
		errors = append(errors, fmt.Sprintf("  - Job '%s': %v", name, err))
	}

	for i, filter := range config.Filters {
		if strings.TrimSpace(filter) == "" {
			errors = append(errors, fmt.Sprintf("  - Job '%s': filters[%d] must not be empty", name, i))
		}
	}

	if config.Repository != "" {
		if err := security.ValidateRepository(config.Repository); err != nil {
			errors = append(errors, fmt.Sprintf("  - Job '%s': %v", name, err))
		}
	}

	return errors
}
