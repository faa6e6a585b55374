package ops

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Credentials are loaded from the environment, never from the config file.
type Credentials struct {
	FeedUsername string `envconfig:"FEED_USERNAME"`
	FeedPassword string `envconfig:"FEED_PASSWORD"`
	FeedAPIKey   string `envconfig:"FEED_API_KEY"`

	BrokerAPIKey      string `envconfig:"BROKER_API_KEY"`
	BrokerAPISecret   string `envconfig:"BROKER_API_SECRET"`
	BrokerAccessToken string `envconfig:"BROKER_ACCESS_TOKEN"`
}

// LoadCredentials reads a .env file when present, then the process
// environment. Missing broker credentials are fatal only for live trading;
// the caller decides based on mode.
func LoadCredentials() (Credentials, error) {
	if err := godotenv.Load(); err != nil {
		logs.Debugf("no .env file: %v", err)
	}
	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, errors.Wrap(err, "process environment")
	}
	return creds, nil
}

// RequireBroker validates the credentials needed for a live broker session.
func (c Credentials) RequireBroker() error {
	if c.BrokerAPIKey == "" || c.BrokerAPISecret == "" {
		return errors.New("live mode requires BROKER_API_KEY and BROKER_API_SECRET")
	}
	return nil
}
