package otel

import (
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Config describes the trace exporter. EndpointURL selects the transport by
// scheme: grpc://host:port for OTLP/gRPC, http(s)://... for OTLP/HTTP.
type Config struct {
	ServiceName        string
	ServiceVersion     string
	EndpointURL        string
	Enabled            bool
	SampleRatio        float64
	Insecure           bool
	ResourceAttributes map[string]string
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "spacecat-auth",
		SampleRatio: 1.0,
		Insecure:    true,
	}
}

type protocol int

const (
	protocolHTTP protocol = iota
	protocolGRPC
)

// endpoint splits EndpointURL into the exporter protocol and its target.
func (c Config) endpoint() (protocol, string, error) {
	u, err := url.Parse(c.EndpointURL)
	if err != nil {
		return 0, "", fmt.Errorf("invalid tracing endpoint %q: %w", c.EndpointURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "grpc":
		return protocolGRPC, u.Host, nil
	case "http", "https":
		return protocolHTTP, c.EndpointURL, nil
	default:
		return 0, "", fmt.Errorf("unsupported tracing endpoint scheme %q", u.Scheme)
	}
}

func (c Config) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("service.name", c.ServiceName)}
	if c.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", c.ServiceVersion))
	}
	for k, v := range c.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
