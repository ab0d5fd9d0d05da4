package endpoints

import (
	"fmt"
	"strings"
)

// DefaultRolePolicy names the role that receives every permission a service
// syncs. ok is false when the service has no default role.
type DefaultRolePolicy interface {
	DefaultRoleName(serviceName string) (name string, ok bool)
}

// NoDefaultRole never maps synced permissions to a role
type NoDefaultRole struct{}

func (NoDefaultRole) DefaultRoleName(string) (string, bool) { return "", false }

// SuffixRolePolicy derives the role name as serviceName + Suffix
type SuffixRolePolicy struct {
	Suffix string
}

func (p SuffixRolePolicy) DefaultRoleName(serviceName string) (string, bool) {
	if serviceName == "" {
		return "", false
	}
	return serviceName + p.Suffix, true
}

// StaticRolePolicy maps service names to role names explicitly
type StaticRolePolicy map[string]string

func (p StaticRolePolicy) DefaultRoleName(serviceName string) (string, bool) {
	name, ok := p[serviceName]
	return name, ok && name != ""
}

// PolicyFromConfig builds a policy from its config name: "none", "suffix"
// (using suffix) or "static" (using mapping)
func PolicyFromConfig(kind, suffix string, mapping map[string]string) (DefaultRolePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return NoDefaultRole{}, nil
	case "suffix":
		if suffix == "" {
			suffix = "_default"
		}
		return SuffixRolePolicy{Suffix: suffix}, nil
	case "static":
		return StaticRolePolicy(mapping), nil
	default:
		return nil, fmt.Errorf("unknown default role policy %q", kind)
	}
}
