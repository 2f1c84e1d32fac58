/*
Copyright 2026 The gemcore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package status defines the Gemini response status taxonomy: the
// numeric code ranges and the category predicates derived from them.
package status

// Named status codes this core emits or reasons about directly. Codes
// not listed here are still valid protocol values (10-69); [Interpret]
// reports their class without a specific name.
const (
	Input                     = 10
	SensitiveInput            = 11
	Success                   = 20
	RedirectTemporary         = 30
	RedirectPermanent         = 31
	TemporaryFailure          = 40
	ServerUnavailable         = 41
	CGIError                  = 42
	ProxyError                = 43
	SlowDown                  = 44
	PermanentFailure          = 50
	NotFound                  = 51
	Gone                      = 52
	ProxyRequestRefused       = 53
	BadRequest                = 59
	ClientCertificateRequired = 60
	CertificateNotAuthorized  = 61
	CertificateNotValid       = 62
)

// MinValid and MaxValid bound the range of valid Gemini status codes.
const (
	MinValid = 10
	MaxValid = 69
)

// IsValid reports whether code is a well-formed Gemini status (10-69).
func IsValid(code int) bool {
	return code >= MinValid && code <= MaxValid
}

// class returns the tens digit of a valid status code.
func class(code int) int {
	return code / 10
}

// IsInput reports whether code is a 1x INPUT status.
func IsInput(code int) bool {
	return IsValid(code) && class(code) == 1
}

// IsSuccess reports whether code is a 2x SUCCESS status.
func IsSuccess(code int) bool {
	return IsValid(code) && class(code) == 2
}

// IsRedirect reports whether code is a 3x REDIRECT status.
func IsRedirect(code int) bool {
	return IsValid(code) && class(code) == 3
}

// IsError reports whether code is a 4x, 5x or 6x failure status.
func IsError(code int) bool {
	return IsValid(code) && class(code) >= 4
}

// IsCertificateRequired reports whether code is a 6x CLIENT CERTIFICATE
// REQUIRED status.
func IsCertificateRequired(code int) bool {
	return IsValid(code) && class(code) == 6
}

// Interpret returns a short, human-readable name for code's class, or
// "UNKNOWN" if code is not a valid Gemini status.
func Interpret(code int) string {
	switch {
	case !IsValid(code):
		return "UNKNOWN"
	case IsInput(code):
		return "INPUT"
	case IsSuccess(code):
		return "SUCCESS"
	case IsRedirect(code):
		return "REDIRECT"
	case class(code) == 4:
		return "TEMPORARY FAILURE"
	case class(code) == 5:
		return "PERMANENT FAILURE"
	case class(code) == 6:
		return "CLIENT CERTIFICATE REQUIRED"
	default:
		return "UNKNOWN"
	}
}
