package errors

// Level is an ordered severity. Lower values are more severe; the zero value
// means no level was chosen.
type Level int

const (
	LevelUnset Level = iota
	LevelCritical
	LevelFatal
	LevelMajor
	LevelError
	LevelMinor
	LevelWarning
	LevelInfo
	LevelDebug
)

var levelNames = map[Level]string{
	LevelUnset:    "unset",
	LevelCritical: "critical",
	LevelFatal:    "fatal",
	LevelMajor:    "major",
	LevelError:    "error",
	LevelMinor:    "minor",
	LevelWarning:  "warning",
	LevelInfo:     "info",
	LevelDebug:    "debug",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}

	return "unknown"
}

// Severe reports whether l is error level or worse. Severe records are
// logged at error severity and forwarded to the reporter.
func (l Level) Severe() bool {
	return l != LevelUnset && l <= LevelError
}

// Warning reports whether l is minor or warning.
func (l Level) Warning() bool {
	return l == LevelMinor || l == LevelWarning
}

// Category classifies an error independently of its severity.
type Category string

const (
	CategoryApplication    Category = "application"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNetwork        Category = "network"
	CategoryValidation     Category = "validation"
	CategoryConfiguration  Category = "configuration"
	CategoryFileSystem     Category = "file_system"
	CategoryStorage        Category = "storage"
	CategoryTimeout        Category = "timeout"
	CategoryRateLimit      Category = "rate_limit"
	CategoryUserInput      Category = "user_input"
	CategoryInternal       Category = "internal"
	CategoryUnknown        Category = "unknown"
)

var categories = map[Category]struct{}{
	CategoryApplication:    {},
	CategoryAuthentication: {},
	CategoryAuthorization:  {},
	CategoryNetwork:        {},
	CategoryValidation:     {},
	CategoryConfiguration:  {},
	CategoryFileSystem:     {},
	CategoryStorage:        {},
	CategoryTimeout:        {},
	CategoryRateLimit:      {},
	CategoryUserInput:      {},
	CategoryInternal:       {},
	CategoryUnknown:        {},
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}
