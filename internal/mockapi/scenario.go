// Package mockapi is an in-memory stand-in for the chat backend: the REST
// collections plus the streaming chatbot endpoint, scripted from a YAML
// scenario file. It exists for local development and end-to-end tests of the
// sync core.
package mockapi

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario scripts the mock backend: seed data and how the chatbot answers.
// Values support ${VAR} / $VAR environment expansion.
type Scenario struct {
	Stream  StreamSettings `yaml:"stream"`
	Replies []ReplyRule    `yaml:"replies"`
	// DefaultReply answers prompts no rule matches.
	DefaultReply string       `yaml:"default_reply"`
	Seed         SeedSettings `yaml:"seed"`
}

// StreamSettings shape the chatbot stream.
type StreamSettings struct {
	// ChunkSize is the number of runes per chunk event.
	ChunkSize int `yaml:"chunk_size"`
	// DelayMs is the pause between chunk events.
	DelayMs int `yaml:"delay_ms"`
}

// ReplyRule maps a prompt substring to a scripted reply.
type ReplyRule struct {
	Match string `yaml:"match"`
	Text  string `yaml:"text"`
	// Fail makes the stream emit an error event instead of a reply.
	Fail string `yaml:"fail"`
}

// SeedSettings pre-populates the dataset.
type SeedSettings struct {
	UserName string `yaml:"user_name"`
	Projects []struct {
		Name    string   `yaml:"name"`
		Threads []string `yaml:"threads"`
	} `yaml:"projects"`
}

// LoadScenario reads and parses a YAML scenario file, expanding env vars.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	return LoadScenarioBytes(raw)
}

// LoadScenarioBytes parses a YAML scenario from bytes (useful for testing).
func LoadScenarioBytes(data []byte) (*Scenario, error) {
	expanded := expandEnvVars(string(data))
	var sc Scenario
	if err := yaml.Unmarshal([]byte(expanded), &sc); err != nil {
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	applyDefaults(&sc)
	return &sc, nil
}

// DefaultScenario is the zero-config scenario used when no file is given.
func DefaultScenario() *Scenario {
	sc := &Scenario{}
	applyDefaults(sc)
	return sc
}

func applyDefaults(sc *Scenario) {
	if sc.Stream.ChunkSize <= 0 {
		sc.Stream.ChunkSize = 12
	}
	if sc.DefaultReply == "" {
		sc.DefaultReply = "This is a scripted reply."
	}
	if sc.Seed.UserName == "" {
		sc.Seed.UserName = "Local User"
	}
}

// ReplyFor picks the scripted reply for a prompt. The second return carries
// a scripted failure message, empty for normal replies.
func (sc *Scenario) ReplyFor(prompt string) (string, string) {
	lower := strings.ToLower(prompt)
	for _, r := range sc.Replies {
		if r.Match != "" && strings.Contains(lower, strings.ToLower(r.Match)) {
			return r.Text, r.Fail
		}
	}
	return sc.DefaultReply, ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the corresponding environment
// value, leaving unset variables as empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.TrimPrefix(m, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		return os.Getenv(name)
	})
}
