package core

// Config is runtime configuration for the CLI.
type Config struct {
	Server   string
	Player   string
	PageSize int
	Aliases  map[string]string
}
