package upload

const (
	MsgMissingAPIKey = "API key is required"
	MsgMissingInput  = "Either image file or URL is required"
	MsgNotConfigured = "Immich server URL not configured"
)

type (
	// InputError indicates the request was missing required input.
	InputError struct{ Message string }

	// ConfigError indicates the relay is not configured to fulfil
	// the request.
	ConfigError struct{ Message string }
)

func (err *InputError) Error() string  { return err.Message }
func (err *ConfigError) Error() string { return err.Message }
