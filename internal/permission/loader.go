package permission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// ErrInvalidPolicyFile is returned when a policy file cannot be parsed.
var ErrInvalidPolicyFile = errors.New("invalid policy file")

// LoadPolicyFile reads a TOML policy. Keys missing from the file keep their
// default values; unknown keys are rejected.
//
//	sensitive_tiers = ["confidential", "restricted"]
//	exempt_locations = ["US", "CA"]
//	restricted_employment_types = ["contractor", "vendor"]
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %s: %v", ErrInvalidPolicyFile, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Policy{}, &conversation.ConfigurationError{
			Key:    "permission.policy_file",
			Reason: fmt.Sprintf("unknown keys in %s: %s", path, strings.Join(keys, ", ")),
		}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
