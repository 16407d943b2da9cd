package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// DefaultIssueID is used when a scenario does not name its issue.
const DefaultIssueID = "issue-1"

// Scenario defines an assignment scenario.
// A scenario creates one assignment, drives it through Steps and checks the
// final record and notifications against Assertions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// IssueID defaults to DefaultIssueID.
	IssueID string `yaml:"issue_id,omitempty"`

	// Candidates is the ordered NGO list handed to CreateAssignment.
	Candidates []string `yaml:"candidates"`

	// OfferWindow and CompletionWindow are Go durations ("48h", "90m").
	// An empty OfferWindow uses the engine default; an empty
	// CompletionWindow disables completion deadlines.
	OfferWindow      string `yaml:"offer_window,omitempty"`
	CompletionWindow string `yaml:"completion_window,omitempty"`

	Steps      []Step     `yaml:"steps"`
	Assertions Assertions `yaml:"assertions,omitempty"`
}

// Step is one action. Exactly one of Accept, Race, Advance or Complete is set.
type Step struct {
	// Accept submits an accept for the named NGO.
	Accept string `yaml:"accept,omitempty"`

	// Race submits one accept per entry, all concurrently.
	Race []string `yaml:"race,omitempty"`

	// Winners is the expected number of winning accepts in a Race.
	Winners *int `yaml:"winners,omitempty"`

	// Advance moves the clock forward, firing every deadline that comes due.
	Advance string `yaml:"advance,omitempty"`

	// Complete marks the assignment complete.
	Complete bool `yaml:"complete,omitempty"`

	// Expect is "won"/"lost" for Accept and "ok"/"rejected" for Complete.
	// Empty means the outcome is not checked.
	Expect string `yaml:"expect,omitempty"`
}

// Kind returns the step's action name.
func (s Step) Kind() string {
	switch {
	case s.Accept != "":
		return StepAccept
	case len(s.Race) > 0:
		return StepRace
	case s.Advance != "":
		return StepAdvance
	case s.Complete:
		return StepComplete
	}
	return ""
}

// Step kinds.
const (
	StepAccept   = "accept"
	StepRace     = "race"
	StepAdvance  = "advance"
	StepComplete = "complete"
)

// Step outcomes.
const (
	OutcomeWon      = "won"
	OutcomeLost     = "lost"
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
)

// Assertions validate the final state. Unset fields are not checked.
type Assertions struct {
	Status   string  `yaml:"status,omitempty"`
	Cursor   *int    `yaml:"cursor,omitempty"`
	Assigned *string `yaml:"assigned,omitempty"`

	// History lists "<outcome>:<ngo>" entries, in order.
	History []string `yaml:"history,omitempty"`

	// Notified lists "<event>:<ngo>" (or just "<event>" when no NGO is
	// addressed), in delivery order.
	Notified []string `yaml:"notified,omitempty"`
}

// offerWindow parses OfferWindow; zero means "use the default".
func (s *Scenario) offerWindow() (time.Duration, error) {
	return parseWindow("offer_window", s.OfferWindow)
}

func (s *Scenario) completionWindow() (time.Duration, error) {
	return parseWindow("completion_window", s.CompletionWindow)
}

func (s *Scenario) issueID() string {
	if s.IssueID == "" {
		return DefaultIssueID
	}
	return s.IssueID
}

func parseWindow(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, v)
	}
	return d, nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields (typos), or does not satisfy the scenario schema.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(path, data)
}

// ParseScenario decodes a scenario from data. name is used in error messages.
func ParseScenario(name string, data []byte) (*Scenario, error) {
	// Strict decode catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateSchema(name, data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateSchema unifies the YAML document with #Scenario and requires a
// concrete result.
func validateSchema(name string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return err
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return err
	}

	unified := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}

// validateScenario checks what the schema cannot express.
func validateScenario(s *Scenario) error {
	if _, err := s.offerWindow(); err != nil {
		return err
	}
	if _, err := s.completionWindow(); err != nil {
		return err
	}

	for i, step := range s.Steps {
		set := 0
		for _, b := range []bool{step.Accept != "", len(step.Race) > 0, step.Advance != "", step.Complete} {
			if b {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of accept, race, advance, complete is required", i)
		}

		switch step.Kind() {
		case StepAccept:
			if step.Expect != "" && step.Expect != OutcomeWon && step.Expect != OutcomeLost {
				return fmt.Errorf("steps[%d]: accept expects %q or %q, got %q", i, OutcomeWon, OutcomeLost, step.Expect)
			}
		case StepComplete:
			if step.Expect != "" && step.Expect != OutcomeOK && step.Expect != OutcomeRejected {
				return fmt.Errorf("steps[%d]: complete expects %q or %q, got %q", i, OutcomeOK, OutcomeRejected, step.Expect)
			}
		case StepAdvance:
			if _, err := parseWindow(fmt.Sprintf("steps[%d].advance", i), step.Advance); err != nil {
				return err
			}
		}
	}
	return nil
}
