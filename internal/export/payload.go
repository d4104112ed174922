package export

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/docsync/internal/source"
)

// Fixed render options for document exports.
const (
	pageLayoutPortrait = "portrait"
	formatPDF          = "pdf"
	formatXLSX         = "xlsx"
)

// sheetPlaceholders are the workbook sections the render service expects to
// be present, even when empty.
var sheetPlaceholders = []string{
	"formulas",
	"dataValidations",
	"comments",
	"filters",
	"pivotTables",
	"merges",
	"conditionalFormats",
	"hyperlinks",
	"images",
	"charts",
}

// payload is the JSON body uploaded to object storage for the render
// service. Options is a serialized JSON object, as the service expects.
type payload struct {
	Content json.RawMessage `json:"content"`
	Options string          `json:"options"`
}

type openTokenBundle struct {
	Token     string `json:"token"`
	DentryKey string `json:"dentryKey"`
	OrgID     string `json:"orgId"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type watermarkConfig struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text,omitempty"`
	Opacity int    `json:"opacity,omitempty"`
}

type documentOptions struct {
	OpenToken         openTokenBundle `json:"openToken"`
	Watermark         watermarkConfig `json:"watermark"`
	PageLayout        string          `json:"pageLayout"`
	ContentOnly       bool            `json:"contentOnly"`
	Title             string          `json:"title"`
	CheckpointVersion string          `json:"checkpointVersion"`
	BaseVersion       int64           `json:"baseVersion"`
	PrintStyle        string          `json:"printStyle"`
	AppVersion        string          `json:"appVersion"`
	ExportFormat      string          `json:"exportFormat"`
	OrgID             string          `json:"orgId"`
	Locale            string          `json:"locale"`
}

type sheetOptions struct {
	Title        string `json:"title"`
	ExportFormat string `json:"exportFormat"`
	OrgID        string `json:"orgId"`
	Locale       string `json:"locale"`
	AppVersion   string `json:"appVersion"`
}

// buildPayload derives a fresh render payload for node. Every call refetches
// content, so a resubmission after a render failure never reuses stale state.
func (o *Orchestrator) buildPayload(ctx context.Context, node *source.Node) ([]byte, error) {
	org, err := o.org.OrgID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: organization: %w", ErrPayloadAssembly, err)
	}

	switch node.Type {
	case source.TypeDocument:
		return o.documentPayload(ctx, node, org)
	case source.TypeSpreadsheet:
		return o.sheetPayload(ctx, node, org)
	default:
		return nil, fmt.Errorf("%w: node %s of type %s is not exportable", ErrPayloadAssembly, node.ID, node.Type)
	}
}

func (o *Orchestrator) documentPayload(ctx context.Context, node *source.Node, org string) ([]byte, error) {
	doc, err := o.content.DocumentContent(ctx, node.DocKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadAssembly, err)
	}

	tok, err := o.content.OpenToken(ctx, node.DentryKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadAssembly, err)
	}

	opts := documentOptions{
		OpenToken: openTokenBundle{
			Token:     tok.Token,
			DentryKey: node.DentryKey,
			OrgID:     org,
			ExpiresAt: tok.ExpiresAt,
		},
		Watermark:         watermarkFromPolicy(doc.SecurityPolicy),
		PageLayout:        pageLayoutPortrait,
		ContentOnly:       true,
		Title:             exportTitle(node),
		CheckpointVersion: doc.Checkpoint,
		BaseVersion:       doc.BaseVersion,
		PrintStyle:        o.opts.PrintStyle,
		AppVersion:        o.opts.AppVersion,
		ExportFormat:      formatPDF,
		OrgID:             org,
		Locale:            o.opts.Locale,
	}

	return encodePayload(doc.Content, opts)
}

func (o *Orchestrator) sheetPayload(ctx context.Context, node *source.Node, org string) ([]byte, error) {
	raw, err := o.content.SheetContent(ctx, node.DocKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadAssembly, err)
	}

	content, err := prepareWorkbook(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %w", ErrPayloadAssembly, node.ID, err)
	}

	opts := sheetOptions{
		Title:        exportTitle(node),
		ExportFormat: formatXLSX,
		OrgID:        org,
		Locale:       o.opts.Locale,
		AppVersion:   o.opts.AppVersion,
	}

	return encodePayload(content, opts)
}

// prepareWorkbook forces formula auto-evaluation on and adds empty
// placeholders for every workbook section the render service requires, at
// workbook level and on every sheet.
func prepareWorkbook(raw json.RawMessage) (json.RawMessage, error) {
	var wb map[string]any
	if err := json.Unmarshal(raw, &wb); err != nil {
		return nil, fmt.Errorf("parsing workbook content: %w", err)
	}

	if wb == nil {
		return nil, fmt.Errorf("workbook content is not an object")
	}

	wb["calcAutoEvaluate"] = true
	addPlaceholders(wb)

	if sheets, ok := wb["sheets"].([]any); ok {
		for _, s := range sheets {
			if sheet, ok := s.(map[string]any); ok {
				addPlaceholders(sheet)
			}
		}
	}

	out, err := json.Marshal(wb)
	if err != nil {
		return nil, fmt.Errorf("encoding workbook content: %w", err)
	}

	return out, nil
}

func addPlaceholders(m map[string]any) {
	for _, key := range sheetPlaceholders {
		if v, ok := m[key]; !ok || v == nil {
			m[key] = []any{}
		}
	}
}

func watermarkFromPolicy(p *source.SecurityPolicy) watermarkConfig {
	if p == nil || !p.WatermarkEnabled {
		return watermarkConfig{Enabled: false}
	}

	return watermarkConfig{
		Enabled: true,
		Text:    p.WatermarkText,
		Opacity: p.WatermarkOpacity,
	}
}

// exportTitle is the node's display name without its source extension.
func exportTitle(node *source.Node) string {
	return norm.NFC.String(source.StripExtension(node.Name, node.Extension))
}

func encodePayload(content json.RawMessage, opts any) ([]byte, error) {
	optJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding options: %w", ErrPayloadAssembly, err)
	}

	body, err := json.Marshal(payload{Content: content, Options: string(optJSON)})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %w", ErrPayloadAssembly, err)
	}

	return body, nil
}
