package recorder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites>
  <testsuite name="api" tests="3" failures="1" errors="0" id="0" time="0.3">
    <testcase name="TestCreate" classname="api.Users" time="0.1"></testcase>
    <testcase name="TestDelete" classname="api.Users" time="0.1">
      <failure message="expected 204" type="assert">users_test.go:42: expected 204, got 500</failure>
    </testcase>
    <testcase name="TestSlow" classname="api.Users" time="0.1">
      <skipped message="short mode"></skipped>
    </testcase>
  </testsuite>
  <testsuite name="store" tests="1" failures="0" errors="0" id="1" time="0.1">
    <testcase name="TestOpen" classname="store.DB" time="0.1"></testcase>
  </testsuite>
</testsuites>`

func TestParseJUnit_Testsuites(t *testing.T) {
	suites, err := ParseJUnit(strings.NewReader(sampleReport))
	require.NoError(t, err)
	require.Len(t, suites.Suites, 2)

	api := suites.Suites[0]
	assert.Equal(t, "api", api.Name)
	require.Len(t, api.Testcases, 3)
	assert.Nil(t, api.Testcases[0].Failure)
	require.NotNil(t, api.Testcases[1].Failure)
	assert.Equal(t, "expected 204", api.Testcases[1].Failure.Message)
	assert.Contains(t, api.Testcases[1].Failure.Data, "users_test.go:42")
	assert.NotNil(t, api.Testcases[2].Skipped)

	assert.Equal(t, "store", suites.Suites[1].Name)
}

func TestParseJUnit_BareTestsuite(t *testing.T) {
	report := `<testsuite name="single" tests="1">
  <testcase name="TestOne" classname="pkg.One"><error message="panic">boom</error></testcase>
</testsuite>`

	suites, err := ParseJUnit(strings.NewReader(report))
	require.NoError(t, err)
	require.Len(t, suites.Suites, 1)
	assert.Equal(t, "single", suites.Suites[0].Name)
	require.Len(t, suites.Suites[0].Testcases, 1)
	assert.NotNil(t, suites.Suites[0].Testcases[0].Error)
}

func TestParseJUnit_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "failed to parse JUnit XML"},
		{"not xml", "hello", "failed to parse JUnit XML"},
		{"wrong root", "<project><name>x</name></project>", "unexpected JUnit root element <project>"},
		{"truncated", "<testsuites><testsuite name=\"a\">", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJUnit(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
