package main

import "time"

type Settings struct {
	APIBaseURL string `env:"API_BASE_URL,required=true"`
	// Defaults to API_BASE_URL.
	HubBaseURL string `env:"HUB_BASE_URL"`
	HubPrefix  string `env:"HUB_PREFIX,default=/hubs"`

	Token    string `env:"TOKEN"`
	Email    string `env:"EMAIL"`
	Password string `env:"PASSWORD"`
	IdeaId   string `env:"IDEA_ID,required=true"`

	LogEncoding string `env:"LOG_ENCODING,default=console"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	StorageFile string `env:"STORAGE_FILE"`
	MongoURI    string `env:"MONGO_URI"`
	DeviceId    string `env:"DEVICE_ID,default=default"`

	ProbeInterval      time.Duration `env:"PROBE_INTERVAL,default=30s"`
	SettleDelay        time.Duration `env:"SETTLE_DELAY,default=1s"`
	TypingExpiry       time.Duration `env:"TYPING_EXPIRY,default=5s"`
	TokenRefreshLeeway time.Duration `env:"TOKEN_REFRESH_LEEWAY,default=1m"`
}

func (s Settings) hubBaseURL() string {
	if s.HubBaseURL != "" {
		return s.HubBaseURL
	}

	return s.APIBaseURL
}
