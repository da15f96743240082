package launch

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
)

// ScriptTarget is where the bootstrap script stores the processing script
// on the instance.
const ScriptTarget = "/tmp/script.sh"

var bootstrapTemplate = template.Must(template.New("bootstrap").Parse(`#!/bin/sh
{{.Fetch}}
chmod +x ` + ScriptTarget + `
{{- if .CallbackURL}}
curl -fsS -X POST -H 'Content-Type: application/json' -H {{.TokenHeader}} -d '{"state":"running"}' {{.CallbackURL}} || true
{{- end}}
` + ScriptTarget + ` {{.ItemID}}
EXIT_CODE=$?
{{- if .CallbackURL}}
curl -fsS -X POST -H 'Content-Type: application/json' -H {{.TokenHeader}} -d "{\"state\":\"terminated\",\"exitCode\":$EXIT_CODE}" {{.CallbackURL}} || true
{{- end}}
{{- if .SelfDelete}}
{{.SelfDelete}} || shutdown -h now
{{- else if .Shutdown}}
shutdown -h now
{{- end}}
exit $EXIT_CODE
`))

// Bootstrap describes the script injected into every instance. Only the
// item id varies between launches.
type Bootstrap struct {
	// ScriptURL is where the processing script is fetched from: s3://,
	// gs://, file:// or http(s)://.
	ScriptURL string
	// CallbackURL is the API base URL workers report their state to.
	// Empty disables callbacks.
	CallbackURL    string
	CallbackSecret string
	// Shutdown powers the instance off once the script exits.
	Shutdown bool
	// SelfDelete replaces the power-off for providers that keep stopped
	// instances around. The instance still powers off if it fails.
	SelfDelete string
}

type bootstrapData struct {
	ItemID      string
	Fetch       string
	CallbackURL string
	TokenHeader string
	Shutdown    bool
	SelfDelete  string
}

// Render builds the script for one item.
func (b Bootstrap) Render(itemID string) (string, error) {
	if !models.ValidItemID(itemID) {
		return "", errors.ValidationField("id", "item id contains characters that are not allowed")
	}

	fetch, err := fetchCommand(b.ScriptURL)
	if err != nil {
		return "", err
	}

	data := bootstrapData{
		ItemID:   shellQuote(itemID),
		Fetch:    fetch,
		Shutdown: b.Shutdown,
	}
	if b.Shutdown {
		data.SelfDelete = b.SelfDelete
	}
	if b.CallbackURL != "" {
		endpoint := strings.TrimRight(b.CallbackURL, "/") + "/launches/" + url.PathEscape(itemID) + "/events"
		data.CallbackURL = shellQuote(endpoint)
		data.TokenHeader = shellQuote(CallbackTokenHeader + ": " + CallbackToken(b.CallbackSecret, itemID))
	}

	var sb strings.Builder
	if err := bootstrapTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render bootstrap: %w", err)
	}
	return sb.String(), nil
}

// fetchCommand picks the download tool for the script location.
func fetchCommand(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || location == "" {
		return "", errors.Validationf("invalid script location %q", location)
	}

	target := ScriptTarget
	switch u.Scheme {
	case "s3":
		return "aws s3 cp " + shellQuote(location) + " " + target, nil
	case "gs":
		return "gsutil cp " + shellQuote(location) + " " + target, nil
	case "file":
		return "cp " + shellQuote(u.Path) + " " + target, nil
	case "http", "https":
		return "curl -fsSL -o " + target + " " + shellQuote(location), nil
	default:
		return "", errors.Validationf("unsupported script location scheme %q", u.Scheme)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
