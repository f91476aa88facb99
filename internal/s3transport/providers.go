package s3transport

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// ProviderConfig captures the endpoint/region/addressing-style defaults
// a named backend needs, adapted from the teacher's KnownProviders map
// but trimmed to the providers realistic for cold-tier object storage.
type ProviderConfig struct {
	Name              string
	DefaultEndpoint   string
	RequiresRegion    bool
	RequiresPathStyle bool
	DefaultRegion     string
	EndpointTemplate  string
}

// KnownProviders is the preset table Freeze/Thaw's transport construction
// consults for the [s3] provider config value instead of a fully explicit
// endpoint/region/path-style triple.
var KnownProviders = map[string]ProviderConfig{
	"aws": {
		Name:              "AWS S3",
		DefaultEndpoint:   "https://s3.amazonaws.com",
		RequiresRegion:    true,
		RequiresPathStyle: false,
		DefaultRegion:     "us-east-1",
	},
	"aws-glacier": {
		Name:              "AWS S3 Glacier (Deep Archive storage class)",
		DefaultEndpoint:   "https://s3.amazonaws.com",
		RequiresRegion:    true,
		RequiresPathStyle: false,
		DefaultRegion:     "us-east-1",
	},
	"minio": {
		Name:              "MinIO",
		DefaultEndpoint:   "http://localhost:9000",
		RequiresRegion:    false,
		RequiresPathStyle: true,
		DefaultRegion:     "us-east-1",
	},
	"wasabi": {
		Name:              "Wasabi",
		DefaultEndpoint:   "https://s3.wasabisys.com",
		RequiresRegion:    true,
		RequiresPathStyle: false,
		DefaultRegion:     "us-east-1",
	},
	"backblaze": {
		Name:              "Backblaze B2",
		DefaultEndpoint:   "https://s3.us-west-000.backblazeb2.com",
		RequiresRegion:    true,
		RequiresPathStyle: true,
		DefaultRegion:     "us-west-000",
		EndpointTemplate:  "https://s3.%s.backblazeb2.com",
	},
}

// GetProviderConfig returns the preset for provider (case-insensitive).
func GetProviderConfig(provider string) (ProviderConfig, error) {
	if provider == "" {
		return ProviderConfig{}, cryoerr.New(cryoerr.KindInvalidInput, "get provider config", errProviderRequired)
	}

	cfg, ok := KnownProviders[strings.ToLower(provider)]
	if !ok {
		return ProviderConfig{}, cryoerr.New(cryoerr.KindInvalidInput, "get provider config", fmt.Errorf("unknown provider %q (supported: %s)", provider, strings.Join(providerNames(), ", ")))
	}
	return cfg, nil
}

var errProviderRequired = simpleErr("provider name is required")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// ResolveEndpointAndRegion fills in endpoint/region from provider's
// preset wherever the caller left them empty, and normalizes the
// endpoint (scheme defaulting, trailing-slash trimming).
func ResolveEndpointAndRegion(provider, endpoint, region string) (string, string, error) {
	cfg, err := GetProviderConfig(provider)
	if err != nil {
		return "", "", err
	}

	if endpoint == "" {
		if cfg.EndpointTemplate != "" && region != "" {
			endpoint = fmt.Sprintf(cfg.EndpointTemplate, region)
		} else {
			endpoint = cfg.DefaultEndpoint
		}
	}
	endpoint = normalizeEndpoint(endpoint)

	if region == "" && cfg.DefaultRegion != "" {
		region = cfg.DefaultRegion
	}

	return endpoint, region, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

// ValidateEndpoint checks that endpoint parses as a well-formed http(s) URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "validate endpoint", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return cryoerr.New(cryoerr.KindInvalidInput, "validate endpoint", fmt.Errorf("endpoint must use http:// or https://"))
	}
	if u.Host == "" {
		return cryoerr.New(cryoerr.KindInvalidInput, "validate endpoint", fmt.Errorf("endpoint must include a hostname"))
	}
	return nil
}

// RequiresPathStyleAddressing reports whether provider needs path-style
// (bucket-in-path) addressing instead of virtual-hosted-style.
func RequiresPathStyleAddressing(provider string) bool {
	cfg, err := GetProviderConfig(provider)
	if err != nil {
		return false
	}
	return cfg.RequiresPathStyle
}

func providerNames() []string {
	names := make([]string, 0, len(KnownProviders))
	for name := range KnownProviders {
		names = append(names, name)
	}
	return names
}
