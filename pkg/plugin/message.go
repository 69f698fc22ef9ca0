package plugin

// Command is a host to plugin command. Variants: Hello, Preview.
type Command interface {
	commandType() string
}

// Hello is the mandatory first command of every session.
type Hello struct{}

// Preview asks the plugin for a preview of a filesystem path.
type Preview struct {
	Path string
}

func (Hello) commandType() string   { return "hello" }
func (Preview) commandType() string { return "preview" }

// Message is a plugin to host message. Variants: HelloMessage,
// PreviewResponse, ErrorResponse.
type Message interface {
	messageType() string
}

// HelloMessage answers Hello with the plugin's metadata.
type HelloMessage struct {
	Metadata Metadata
}

// PreviewResponse carries the rendered preview for one Preview command.
type PreviewResponse struct {
	Components Components
}

// ErrorResponse reports that the plugin could not serve one command.
type ErrorResponse struct {
	Message string
}

func (HelloMessage) messageType() string    { return "hello" }
func (PreviewResponse) messageType() string { return "preview" }
func (ErrorResponse) messageType() string   { return "error" }

// Request is a framed command with its call id.
type Request struct {
	ID      CallID
	Command Command
}

// Response is a framed message paired to the call id of the command that
// produced it.
type Response struct {
	ID      CallID
	Message Message
}
