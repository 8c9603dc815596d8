package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	mcpOnly bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMCPStdio serves MCP over stdin/stdout instead of starting the HTTP server.
func WithMCPStdio(enabled bool) Option {
	return func(a *application) {
		a.mcpOnly = enabled
	}
}
