package split

import (
	"errors"
	"testing"

	"github.com/seimei-ai/seimei/pkg/credits"
)

func TestParseSplitPayload(test *testing.T) {
	test.Parallel()
	name, err := parseSplitPayload(`{"last_name":"徳川","first_name":"家康"}`)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if name.FamilyName != "徳川" || name.GivenName != "家康" {
		test.Fatalf("unexpected name: %+v", name)
	}
}

func TestParseSplitPayloadRejectsInvalidJSON(test *testing.T) {
	test.Parallel()
	if _, err := parseSplitPayload("family,given"); !errors.Is(err, credits.ErrUpstreamMalformed) {
		test.Fatalf("expected ErrUpstreamMalformed, got %v", err)
	}
}

func TestParseSplitPayloadRejectsMissingField(test *testing.T) {
	test.Parallel()
	cases := []string{
		`{"last_name":"徳川"}`,
		`{"first_name":"家康"}`,
		`{"last_name":"","first_name":"家康"}`,
		`{}`,
	}
	for _, payload := range cases {
		if _, err := parseSplitPayload(payload); !errors.Is(err, credits.ErrUpstreamMalformed) {
			test.Fatalf("payload %s: expected ErrUpstreamMalformed, got %v", payload, err)
		}
	}
}

func TestConfigValidate(test *testing.T) {
	test.Parallel()
	valid := Config{Endpoint: "https://example.openai.azure.com", APIKey: "key", Deployment: "gpt"}
	if err := valid.Validate(); err != nil {
		test.Fatalf("valid config rejected: %v", err)
	}
	missing := []Config{
		{APIKey: "key", Deployment: "gpt"},
		{Endpoint: "https://example.openai.azure.com", Deployment: "gpt"},
		{Endpoint: "https://example.openai.azure.com", APIKey: "key"},
	}
	for index, cfg := range missing {
		if err := cfg.Validate(); err == nil {
			test.Fatalf("case %d: expected validation error", index)
		}
	}
}
