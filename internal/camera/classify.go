package camera

import (
	"strings"
)

// Keyword lists are matched against lower-cased GStreamer error and debug
// text. Order of evaluation: permission, constraints, device.
var (
	permissionKeywords = []string{
		"permission denied",
		"not permitted",
		"not authorized",
		"access denied",
		"eacces",
	}

	constraintKeywords = []string{
		"not-negotiated",
		"not negotiated",
		"could not negotiate",
		"no supported format",
		"failed to configure",
		"invalid resolution",
		"unsupported",
		"caps",
	}

	deviceKeywords = []string{
		"no such file",
		"no such device",
		"cannot identify device",
		"could not open",
		"device busy",
		"resource busy",
		"not found",
		"failed to allocate",
	}
)

// ClassifyError maps GStreamer error text onto an ErrorKind. Unrecognized
// failures are reported as DeviceUnavailable.
func ClassifyError(message, debug string) ErrorKind {
	text := strings.ToLower(message + " " + debug)

	if containsAny(text, permissionKeywords) {
		return PermissionDenied
	}
	if containsAny(text, constraintKeywords) {
		return ConstraintsNotSatisfiable
	}
	if containsAny(text, deviceKeywords) {
		return DeviceUnavailable
	}
	return DeviceUnavailable
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
