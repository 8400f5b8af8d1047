package schemas

// -- Validation Schemas --

// ValidationKind classifies a blocking problem with a cookie record.
type ValidationKind string

const (
	ValidationMissingField ValidationKind = "missingField"
	ValidationExpired      ValidationKind = "expired"
	ValidationBadType      ValidationKind = "badType"
	ValidationSizeLimit    ValidationKind = "sizeLimit"
)

// ValidationIssue is a single blocking error found while normalizing a cookie.
type ValidationIssue struct {
	Kind    ValidationKind `json:"kind"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
}

// ValidationResult is the outcome of normalizing one cookie record.
// Fixed is present only when Valid is true.
type ValidationResult struct {
	Index    int               `json:"index"`
	Original CookieRecord      `json:"original"`
	Fixed    *CookieRecord     `json:"fixed,omitempty"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []string          `json:"warnings"`
	Fixes    []string          `json:"fixes"`
	Valid    bool              `json:"valid"`
}

// HasError reports whether the result carries an error of the given kind for field.
// An empty field matches any field.
func (r ValidationResult) HasError(kind ValidationKind, field string) bool {
	for _, e := range r.Errors {
		if e.Kind == kind && (field == "" || e.Field == field) {
			return true
		}
	}
	return false
}

// -- Injection Schemas --

// InjectionFailureKind classifies why the browser refused a validated cookie.
type InjectionFailureKind string

const (
	InjectionDomainRejected  InjectionFailureKind = "domainRejected"
	InjectionNetworkError    InjectionFailureKind = "networkError"
	InjectionBrowserRejected InjectionFailureKind = "browserRejected"
)

// InjectionFailure records one cookie the browsing context did not accept.
type InjectionFailure struct {
	Name    string               `json:"name"`
	Domain  string               `json:"domain"`
	Kind    InjectionFailureKind `json:"kind"`
	Message string               `json:"message"`
}

// InjectionReport summarizes a single injection call. It is never persisted.
type InjectionReport struct {
	Processed          int                `json:"processed"`
	Valid              int                `json:"valid"`
	Injected           int                `json:"injected"`
	Failed             int                `json:"failed"`
	ValidationFailures []ValidationResult `json:"validationFailures"`
	InjectionFailures  []InjectionFailure `json:"injectionFailures"`
	Recommendations    []string           `json:"recommendations"`
	LoggedIn           bool               `json:"loggedIn"`
	Success            bool               `json:"success"`
	FinalURL           string             `json:"finalUrl,omitempty"`
}

// -- Monitor Schemas --

// MonitorStatus is the terminal state of a login-completion wait.
type MonitorStatus string

const (
	MonitorDetected      MonitorStatus = "detected"
	MonitorTimeout       MonitorStatus = "timeout"
	MonitorCancelled     MonitorStatus = "cancelled"
	MonitorContextClosed MonitorStatus = "context_closed"
)

// MonitorResult is returned by a login-completion wait.
type MonitorResult struct {
	Status MonitorStatus `json:"status"`
	Ticks  int           `json:"ticks"`
}
