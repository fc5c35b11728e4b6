/*
Package config loads carouselbot configuration.

Config wraps a map[string]any decoded from YAML or JSON and provides typed
accessors that fall back to a default when a key is missing or has the wrong
type. Keys may be dotted paths into nested sections:

	cfg, err := config.FromFile("carouselbot.yaml")
	if err != nil {
	    return err
	}
	attempts := cfg.Int("bus.retry.max_attempts", 3)
	timeout := cfg.Duration("llm.timeout", 30*time.Second)

Settings is the typed view the binary runs on. Load reads the file, fills
Settings from it over the defaults, overlays environment variables (secrets
such as CAROUSEL_TELEGRAM_TOKEN are normally supplied this way) and validates
the result:

	s, err := config.Load("carouselbot.yaml")

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
