package tgui

import "strings"

// Data joins callback parts as "scope:action[:arg...]". Empty trailing args
// are dropped. The caller guarantees parts contain no ':'.
func Data(scope, action string, args ...string) string {
	parts := make([]string, 0, 2+len(args))
	parts = append(parts, strings.TrimSpace(scope), strings.TrimSpace(action))
	parts = append(parts, args...)
	for len(parts) > 2 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ":")
}

// Callback is parsed callback data.
type Callback struct {
	Scope  string
	Action string
	Args   []string
}

// Arg returns the i-th argument or "".
func (c Callback) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// ParseData splits data produced by Data. ok is false when scope or action is missing.
func ParseData(data string) (Callback, bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Callback{}, false
	}
	return Callback{Scope: parts[0], Action: parts[1], Args: parts[2:]}, true
}
