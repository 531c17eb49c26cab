package config

import "os"

const MAPBOX_ACCESS_TOKEN = "MAPBOX_ACCESS_TOKEN"
const MAPBOX_URL = "MAPBOX_URL"
const OPENAI_API_KEY = "OPENAI_API_KEY"
const OPENAI_API_URL = "OPENAI_API_URL"
const SENDGRID_API_KEY = "SENDGRID_API_KEY"
const SENDGRID_FROM_EMAIL = "SENDGRID_FROM_EMAIL"
const TWILIO_ACCOUNT_SID = "TWILIO_ACCOUNT_SID"
const TWILIO_AUTH_TOKEN = "TWILIO_AUTH_TOKEN"
const TWILIO_PHONE_NUMBER = "TWILIO_PHONE_NUMBER"

const DefaultMapboxURL = "https://api.mapbox.com"

type MapboxConfig struct {
	AccessToken string
	BaseURL     string
}

type OpenAIConfig struct {
	APIKey string
	APIURL string
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

// Collaborators carries the credentials and endpoints of the external services. Empty values are
// allowed; each client degrades to its fallback or reports a dispatch error.
type Collaborators struct {
	Mapbox   MapboxConfig
	OpenAI   OpenAIConfig
	SendGrid SendGridConfig
	Twilio   TwilioConfig
}

func LoadCollaborators() Collaborators {
	mapboxURL := os.Getenv(MAPBOX_URL)
	if mapboxURL == "" {
		mapboxURL = DefaultMapboxURL
	}
	return Collaborators{
		Mapbox: MapboxConfig{
			AccessToken: os.Getenv(MAPBOX_ACCESS_TOKEN),
			BaseURL:     mapboxURL,
		},
		OpenAI: OpenAIConfig{
			APIKey: os.Getenv(OPENAI_API_KEY),
			APIURL: os.Getenv(OPENAI_API_URL),
		},
		SendGrid: SendGridConfig{
			APIKey:    os.Getenv(SENDGRID_API_KEY),
			FromEmail: os.Getenv(SENDGRID_FROM_EMAIL),
		},
		Twilio: TwilioConfig{
			AccountSID:  os.Getenv(TWILIO_ACCOUNT_SID),
			AuthToken:   os.Getenv(TWILIO_AUTH_TOKEN),
			PhoneNumber: os.Getenv(TWILIO_PHONE_NUMBER),
		},
	}
}
