package recorder

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/jstemmer/go-junit-report/v2/junit"
)

// MaxReportBytes bounds how much of a JUnit report is read.
const MaxReportBytes = 32 << 20

// ParseJUnit decodes a JUnit XML report. Both a <testsuites> document and a
// single bare <testsuite> are accepted.
func ParseJUnit(r io.Reader) (*junit.Testsuites, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxReportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read JUnit report: %w", err)
	}
	if len(data) > MaxReportBytes {
		return nil, fmt.Errorf("JUnit report exceeds %d bytes", MaxReportBytes)
	}

	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
	}

	var suites junit.Testsuites
	switch root.XMLName.Local {
	case "testsuites":
		if err := xml.Unmarshal(data, &suites); err != nil {
			return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
		}
	case "testsuite":
		var suite junit.Testsuite
		if err := xml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("failed to parse JUnit testsuite: %w", err)
		}
		suites.AddSuite(suite)
	default:
		return nil, fmt.Errorf("unexpected JUnit root element <%s>", root.XMLName.Local)
	}

	return &suites, nil
}
