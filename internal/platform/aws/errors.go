package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// ErrorCode extracts the machine-readable API error code, or "" when the
// error did not come from the control plane.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// errorMessage extracts the API error message for substring matching.
func errorMessage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorMessage()
	}
	return ""
}

func isErrorCode(err error, codes ...string) bool {
	got := ErrorCode(err)
	if got == "" {
		return false
	}
	for _, code := range codes {
		if got == code {
			return true
		}
	}
	return false
}

// IsThrottled reports whether an error indicates request throttling.
// These errors are retryable with backoff.
func IsThrottled(err error) bool {
	return isErrorCode(err,
		"Throttling",
		"ThrottlingException",
		"RequestLimitExceeded",
		"TooManyRequestsException",
	)
}

// IsNotFound reports whether the control plane could not find the resource.
// Each service spells this differently: EC2 uses Invalid*.NotFound codes,
// IAM uses NoSuchEntity, EFS and ELBv2 use *NotFound.
func IsNotFound(err error) bool {
	code := ErrorCode(err)
	if code == "" {
		return false
	}
	if strings.HasSuffix(code, ".NotFound") || strings.HasSuffix(code, "NotFound") {
		return true
	}
	return code == "NoSuchEntity"
}

// IsMalformedID reports whether the error indicates a syntactically invalid
// resource id (e.g. InvalidAMIID.Malformed).
func IsMalformedID(err error) bool {
	return strings.HasSuffix(ErrorCode(err), ".Malformed")
}

// IsInvalidParameter reports whether the request carried a bad parameter.
// Fatal unless it matches a propagation signature, see IsProfilePropagation.
func IsInvalidParameter(err error) bool {
	return isErrorCode(err,
		"InvalidParameterValue",
		"InvalidParameterCombination",
		"ValidationError",
	)
}

// IsProfilePropagation reports whether an EC2 launch rejection is the known
// signature of an IAM instance profile that exists but is not yet visible
// to the launch API. Only confidently matched signatures count; ambiguous
// invalid-parameter errors are re-raised rather than silently retried.
func IsProfilePropagation(err error) bool {
	if !isErrorCode(err, "InvalidParameterValue") {
		return false
	}
	msg := strings.ToLower(errorMessage(err))
	return strings.Contains(msg, "iam instance profile") || strings.Contains(msg, "instance profile name")
}

// IsDependencyViolation reports whether a delete was rejected because other
// resources still reference this one. Retryable during teardown while
// dependents drain.
func IsDependencyViolation(err error) bool {
	return isErrorCode(err, "DependencyViolation", "FileSystemInUse")
}
