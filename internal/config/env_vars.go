package config

import "strings"

type EnvVars struct {
	Port    string `env:"PORT, default=8080"`
	AppName string `env:"APP_NAME, default=Go SSO Bridge"`
	BaseURL string `env:"BASE_URL, default=http://localhost:8080"`
	Env     string `env:"ENV, default=DEV"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port == "" {
		port = "8080"
	}
	if port[0] != ':' {
		port = ":" + port
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

// GetBaseURL returns the externally visible URL of this service (e.g., "https://app.example.com")
// This is used for the default redirect URI and the post-logout landing page
func (e EnvVars) GetBaseURL() string {
	return strings.TrimRight(e.BaseURL, "/")
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return strings.ToUpper(e.Env)
}

func (e EnvVars) IsDev() bool {
	return e.GetEnv() == "DEV"
}
