package mockapi

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Scenario is a scripted model reply.
type Scenario struct {
	Name     string
	Thinking string
	Answer   string
	// Malformed inserts an undecodable data line in the middle of the stream.
	Malformed bool
	// Truncate ends the stream without the [DONE] terminator.
	Truncate bool
	// Status, when non-zero, rejects the request with this HTTP status.
	Status int
}

// Text returns the full streamed content including think markers.
func (s Scenario) Text() string {
	if s.Thinking == "" {
		return s.Answer
	}
	return "<think>\n" + s.Thinking + "</think>\n\n" + s.Answer
}

const scenarioDirective = "#scenario:"

// Scenarios returns the built-in replies keyed by name.
func Scenarios() map[string]Scenario {
	list := []Scenario{
		{
			Name:     "think",
			Thinking: "The user wants a short answer.\nI should keep it brief.\n",
			Answer:   "This is a test.\n",
		},
		{
			Name:   "plain",
			Answer: "Hello from the mock endpoint.\nNo reasoning was requested.\n",
		},
		{
			Name:     "multiline",
			Thinking: "Step one: read the question.\nStep two: list the facts.\nStep three: answer.\n",
			Answer:   "First line of the answer.\nSecond line of the answer.\nDone.",
		},
		{
			Name:      "malformed",
			Thinking:  "Checking a noisy stream.\n",
			Answer:    "The bad line was skipped.\n",
			Malformed: true,
		},
		{
			Name:     "truncated",
			Thinking: "This stream will be cut.\n",
			Answer:   "You should never see the end of th",
			Truncate: true,
		},
		{
			Name:   "error",
			Status: 500,
		},
	}
	out := make(map[string]Scenario, len(list))
	for _, s := range list {
		out[s.Name] = s
	}
	return out
}

// ScenarioNames returns the built-in scenario names in a stable order.
func ScenarioNames() []string {
	return []string{"think", "plain", "multiline", "malformed", "truncated", "error"}
}

// pickScenario selects by explicit name, then by a "#scenario:<name>" prompt
// directive, then defaults to "think".
func pickScenario(name, prompt string) (Scenario, error) {
	scenarios := Scenarios()
	if name == "" {
		if idx := strings.Index(prompt, scenarioDirective); idx >= 0 {
			rest := prompt[idx+len(scenarioDirective):]
			if end := strings.IndexAny(rest, " \t\n"); end >= 0 {
				rest = rest[:end]
			}
			name = rest
		}
	}
	if name == "" {
		name = "think"
	}
	s, ok := scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario: %s", name)
	}
	return s, nil
}

func hashSeed(parts ...string) uint64 {
	hasher := fnv.New64a()
	for _, part := range parts {
		_, _ = hasher.Write([]byte(part))
	}
	return hasher.Sum64()
}

// chunk splits text into deterministic pieces of 1 to 7 bytes so that think
// markers regularly straddle chunk boundaries.
func chunk(text string, seed uint64) []string {
	var out []string
	state := seed | 1
	for len(text) > 0 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		n := int(state%7) + 1
		if n > len(text) {
			n = len(text)
		}
		out = append(out, text[:n])
		text = text[n:]
	}
	return out
}
