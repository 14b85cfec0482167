// Package testvector implements a minimal conformance-vector driver for
// the block transition, in the shape of the venus conformance driver's
// Driver/ExecuteTipset contract: load a declarative fixture, run it
// through the transition under test, and compare the resulting state
// dictionary (and root) against what the vector expects.
//
// The wire format a real conformance suite ships its vectors in is the
// embedding node's concern (spec.md §1 scopes persistence format and
// wire layout out of this core); this package only specifies the
// comparison contract a harness plugs a transition implementation into.
package testvector

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/jamzig/statecore/triestate"
)

// Case is one declarative block-transition fixture.
type Case struct {
	Name              string            `json:"name"`
	PreState          map[string]string `json:"pre_state"`
	BlockHex          string            `json:"block"`
	ExpectedPostState map[string]string `json:"expected_post_state,omitempty"`
	ExpectedErrorTag  string            `json:"expected_error_tag,omitempty"`
}

// Decode parses a Case's hex fields into the byte-keyed dictionary and
// opaque block encoding the rest of this package operates on.
func (c *Case) Decode() (pre map[[31]byte][]byte, block []byte, err error) {
	pre, err = decodeDict(c.PreState)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode pre_state")
	}
	block, err = hex.DecodeString(c.BlockHex)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode block")
	}
	return pre, block, nil
}

func decodeDict(in map[string]string) (map[[31]byte][]byte, error) {
	out := make(map[[31]byte][]byte, len(in))
	for k, v := range in {
		kb, err := hex.DecodeString(k)
		if err != nil {
			return nil, err
		}
		if len(kb) != 31 {
			return nil, fmt.Errorf("state key %q is not 31 bytes", k)
		}
		var key [31]byte
		copy(key[:], kb)
		vb, err := hex.DecodeString(v)
		if err != nil {
			return nil, err
		}
		out[key] = vb
	}
	return out, nil
}

// Outcome is what running a Case through a Runner produced.
type Outcome struct {
	PostState map[[31]byte][]byte
	ErrorTag  string
}

// Runner executes one decoded Case's block against its pre-state and
// reports either the post-state dictionary or a typed error tag
// (spec.md §7: "surface the specific kind so external test harnesses can
// compare to expected-error tags"). The embedding harness supplies
// this — this package never constructs a transition itself.
type Runner func(pre map[[31]byte][]byte, block []byte) (Outcome, error)

// Driver runs Cases against a Runner and checks each result against the
// Case's expectation.
type Driver struct {
	Trie   triestate.Trie
	Runner Runner
}

// Result is one Case's verdict.
type Result struct {
	Case   Case
	Passed bool
	Detail string
}

// Run executes every case and returns one Result per case, never
// stopping early on a single failure — a conformance harness needs the
// full mismatch list, not just the first.
func (d Driver) Run(cases []Case) []Result {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		results = append(results, d.runOne(c))
	}
	return results
}

func (d Driver) runOne(c Case) Result {
	pre, block, err := c.Decode()
	if err != nil {
		return Result{Case: c, Detail: err.Error()}
	}

	outcome, runErr := d.Runner(pre, block)

	if c.ExpectedErrorTag != "" {
		if runErr == nil {
			return Result{Case: c, Detail: "expected error, transition succeeded"}
		}
		if outcome.ErrorTag != c.ExpectedErrorTag {
			return Result{Case: c, Detail: fmt.Sprintf("error tag %q, want %q", outcome.ErrorTag, c.ExpectedErrorTag)}
		}
		return Result{Case: c, Passed: true}
	}
	if runErr != nil {
		return Result{Case: c, Detail: fmt.Sprintf("unexpected error: %v", runErr)}
	}

	wantPost, err := decodeDict(c.ExpectedPostState)
	if err != nil {
		return Result{Case: c, Detail: err.Error()}
	}
	if !dictEqual(outcome.PostState, wantPost) {
		return Result{Case: c, Detail: "post-state dictionary mismatch"}
	}

	if d.Trie != nil {
		gotRoot, err := d.Trie.Root(outcome.PostState)
		if err != nil {
			return Result{Case: c, Detail: err.Error()}
		}
		wantRoot, err := d.Trie.Root(wantPost)
		if err != nil {
			return Result{Case: c, Detail: err.Error()}
		}
		if gotRoot != wantRoot {
			return Result{Case: c, Detail: "post-state root mismatch"}
		}
	}
	return Result{Case: c, Passed: true}
}

func dictEqual(a, b map[[31]byte][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !bytesEqual(v, bv) {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LoadCases parses a JSON array of Case fixtures, the shape a
// conformance suite ships on disk.
func LoadCases(data []byte) ([]Case, error) {
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, errors.Wrap(err, "decode test vector cases")
	}
	return cases, nil
}
