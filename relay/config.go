package relay

// DefaultListenAddr binds every interface on the port browser clients expect.
const DefaultListenAddr = "0.0.0.0:5000"

// DefaultModel is the chat-completion model requested upstream.
const DefaultModel = "gpt-3.5-turbo"

// Config is the relay server configuration.
type Config struct {
	// Address to listen on (e.g., "0.0.0.0:5000")
	ListenAddr string

	// Model identifier sent with every upstream request
	Model string
}
