package types

// redacted is the replacement emitted anywhere a secret would otherwise be
// printed or serialized.
const redacted = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a sensitive value (API keys, signing secrets, DSNs).
// It satisfies fmt.Stringer and json.Marshaler with a redacted placeholder so
// secrets cannot leak through log output or serialized config dumps. Call
// Unmask only at the point the raw value is genuinely required, such as
// building an Authorization header or opening a database connection.
type SecretString string

func (s SecretString) String() string { return redacted }

func (s SecretString) MarshalJSON() ([]byte, error) { return redactedJSON, nil }

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string { return string(s) }
