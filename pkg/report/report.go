// Package report decodes Playwright JSON reporter output. The suites
// tree is decoded strictly (a report without suites is invalid), while
// config and stats metadata tolerate absent or wrong-typed sections by
// degrading to zero values, since their shape varies across Playwright
// versions.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ErrMissingSuites marks a structurally invalid report. No rows may be
// written for such a document.
var ErrMissingSuites = errors.New("report has no suites key")

// Report is a parsed Playwright JSON report.
type Report struct {
	Meta   Meta
	Suites []Suite

	// Raw is the original document, stored verbatim on the execution.
	Raw []byte
}

// Meta holds the execution-level metadata extracted from config/stats.
type Meta struct {
	ConfigFile        string
	RootDir           string
	PlaywrightVersion string
	Workers           int
	ActualWorkers     int

	GitCommitHash      string
	GitCommitShortHash string
	GitBranch          string
	GitCommitSubject   string
	GitAuthorName      string
	GitAuthorEmail     string

	CIBuildHref  string
	CICommitHref string

	StartTime       time.Time
	Duration        float64
	ExpectedTests   int
	SkippedTests    int
	UnexpectedTests int
	FlakyTests      int
}

// Suite is a hierarchical grouping of specs and nested suites.
type Suite struct {
	Title  string   `json:"title"`
	File   string   `json:"file"`
	Tags   []string `json:"tags"`
	Specs  []Spec   `json:"specs"`
	Suites []Suite  `json:"suites"`
}

// Spec is one test case definition; each configured Playwright project
// it runs under produces a TestEntry.
type Spec struct {
	Title  string      `json:"title"`
	Line   int         `json:"line"`
	Column int         `json:"column"`
	Tags   []string    `json:"tags"`
	Tests  []TestEntry `json:"tests"`
}

// TestEntry is one spec execution under a single Playwright project.
type TestEntry struct {
	ProjectID      string       `json:"projectId"`
	ProjectName    string       `json:"projectName"`
	Timeout        int          `json:"timeout"`
	ExpectedStatus string       `json:"expectedStatus"`
	Annotations    []Annotation `json:"annotations"`
	Results        []Result     `json:"results"`
}

// Annotation is a typed note attached to a test.
type Annotation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Result is one attempt (retry) of one test entry. The output arrays
// are kept as raw JSON so aggregation preserves their exact shape.
type Result struct {
	Status        string            `json:"status"`
	WorkerIndex   int               `json:"workerIndex"`
	ParallelIndex int               `json:"parallelIndex"`
	Duration      float64           `json:"duration"`
	Retry         int               `json:"retry"`
	StartTime     string            `json:"startTime"`
	Errors        []json.RawMessage `json:"errors"`
	Stdout        []json.RawMessage `json:"stdout"`
	Stderr        []json.RawMessage `json:"stderr"`
	Steps         []json.RawMessage `json:"steps"`
	Annotations   []json.RawMessage `json:"annotations"`
	Attachments   []json.RawMessage `json:"attachments"`
}

// Parse decodes a Playwright JSON report. It returns ErrMissingSuites
// (wrapped) when the suites key is absent, and a decode error when the
// document is not valid JSON or the suites tree is malformed.
func Parse(data []byte) (*Report, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	rawSuites, ok := root["suites"]
	if !ok {
		return nil, fmt.Errorf("invalid report: %w", ErrMissingSuites)
	}

	var suites []Suite
	if err := json.Unmarshal(rawSuites, &suites); err != nil {
		return nil, fmt.Errorf("decoding suites: %w", err)
	}

	r := &Report{
		Meta:   parseMeta(root),
		Suites: suites,
		Raw:    data,
	}

	return r, nil
}

// parseMeta extracts execution metadata from the config and stats
// sections. Every section may be absent or of the wrong type.
func parseMeta(root map[string]json.RawMessage) Meta {
	cfg := asMap(root["config"])
	stats := asMap(root["stats"])
	metadata := asMapValue(cfg["metadata"])
	gitCommit := asMapValue(metadata["gitCommit"])
	author := asMapValue(gitCommit["author"])
	ci := asMapValue(metadata["ci"])

	var cfgFields struct {
		ConfigFile string `mapstructure:"configFile"`
		RootDir    string `mapstructure:"rootDir"`
		Version    string `mapstructure:"version"`
		Workers    int    `mapstructure:"workers"`
	}

	var metadataFields struct {
		ActualWorkers int    `mapstructure:"actualWorkers"`
		BuildHref     string `mapstructure:"buildHref"`
	}

	var gitFields struct {
		Hash      string `mapstructure:"hash"`
		ShortHash string `mapstructure:"shortHash"`
		Branch    string `mapstructure:"branch"`
		Subject   string `mapstructure:"subject"`
	}

	var authorFields struct {
		Name  string `mapstructure:"name"`
		Email string `mapstructure:"email"`
	}

	var ciFields struct {
		CommitHref string `mapstructure:"commitHref"`
	}

	var statsFields struct {
		StartTime  string  `mapstructure:"startTime"`
		Duration   float64 `mapstructure:"duration"`
		Expected   int     `mapstructure:"expected"`
		Skipped    int     `mapstructure:"skipped"`
		Unexpected int     `mapstructure:"unexpected"`
		Flaky      int     `mapstructure:"flaky"`
	}

	decodeSection(cfg, &cfgFields)
	decodeSection(metadata, &metadataFields)
	decodeSection(gitCommit, &gitFields)
	decodeSection(author, &authorFields)
	decodeSection(ci, &ciFields)
	decodeSection(stats, &statsFields)

	meta := Meta{
		ConfigFile:         cfgFields.ConfigFile,
		RootDir:            cfgFields.RootDir,
		PlaywrightVersion:  cfgFields.Version,
		Workers:            cfgFields.Workers,
		ActualWorkers:      metadataFields.ActualWorkers,
		GitCommitHash:      gitFields.Hash,
		GitCommitShortHash: gitFields.ShortHash,
		GitBranch:          gitFields.Branch,
		GitCommitSubject:   gitFields.Subject,
		GitAuthorName:      authorFields.Name,
		GitAuthorEmail:     authorFields.Email,
		CIBuildHref:        metadataFields.BuildHref,
		CICommitHref:       ciFields.CommitHref,
		Duration:           statsFields.Duration,
		ExpectedTests:      statsFields.Expected,
		SkippedTests:       statsFields.Skipped,
		UnexpectedTests:    statsFields.Unexpected,
		FlakyTests:         statsFields.Flaky,
		StartTime:          ParseTime(statsFields.StartTime, time.Now().UTC()),
	}

	if meta.Workers == 0 {
		meta.Workers = 1
	}

	if meta.ActualWorkers == 0 {
		meta.ActualWorkers = 1
	}

	return meta
}

// decodeSection weakly decodes a map into target, leaving target
// untouched when the section cannot be decoded at all.
func decodeSection(section map[string]any, target any) {
	if len(section) == 0 {
		return
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return
	}

	_ = dec.Decode(section)
}

// asMap decodes raw JSON into a map, returning an empty map for absent
// or non-object values.
func asMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}

	return m
}

// asMapValue narrows an already-decoded value to a map, returning an
// empty map for anything else.
func asMapValue(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return map[string]any{}
	}

	return m
}

// ParseTime parses an RFC3339 timestamp, returning fallback when the
// value is empty or unparseable.
func ParseTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return fallback
	}

	return t.UTC()
}

// TestID returns the spec's stable identifier: the first non-empty
// "id" annotation across the spec's test entries.
func (s *Spec) TestID() string {
	for _, entry := range s.Tests {
		for _, a := range entry.Annotations {
			if a.Type == "id" {
				if id := strings.TrimSpace(a.Description); id != "" {
					return id
				}
			}
		}
	}

	return ""
}

// Story returns the first non-empty "story" annotation across the
// spec's test entries.
func (s *Spec) Story() string {
	for _, entry := range s.Tests {
		for _, a := range entry.Annotations {
			if a.Type == "story" && a.Description != "" {
				return a.Description
			}
		}
	}

	return ""
}
