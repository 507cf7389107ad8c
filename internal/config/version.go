package config

// Version is injected at build time:
//
//	go build -ldflags "-X 'github.com/streamvault/streamvault/internal/config.Version=1.2.3'"
var Version = "dev"
