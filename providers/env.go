package providers

import "os"

// EnvCredentials resolves a provider's credentials from the process
// environment, for dispatches that have no deployment row to supply a
// decrypted key (direct model routing). Each provider reads its
// conventional variable; self-hosted backends (ollama, vllm) need none
// and return empty credentials.
func EnvCredentials(providerType string) Credentials {
	switch providerType {
	case "openai":
		return Credentials{APIKey: os.Getenv("OPENAI_API_KEY")}
	case "anthropic":
		return Credentials{APIKey: os.Getenv("ANTHROPIC_API_KEY")}
	case "mistral":
		return Credentials{APIKey: os.Getenv("MISTRAL_API_KEY")}
	case "groq":
		return Credentials{APIKey: os.Getenv("GROQ_API_KEY")}
	case "cohere":
		return Credentials{APIKey: os.Getenv("COHERE_API_KEY")}
	case "gemini":
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		return Credentials{APIKey: key}
	case "azure":
		return Credentials{
			APIKey: os.Getenv("AZURE_OPENAI_API_KEY"),
			Extra:  map[string]string{"endpoint": os.Getenv("AZURE_OPENAI_ENDPOINT")},
		}
	case "bedrock":
		return Credentials{Extra: map[string]string{
			"aws_access_key_id":     os.Getenv("AWS_ACCESS_KEY_ID"),
			"aws_secret_access_key": os.Getenv("AWS_SECRET_ACCESS_KEY"),
			"aws_session_token":     os.Getenv("AWS_SESSION_TOKEN"),
			"aws_region":            os.Getenv("AWS_REGION"),
		}}
	default:
		return Credentials{}
	}
}
