package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/vinodismyname/mcpsheets/internal/query"
)

const (
	schemeSheet    = "sheet://"
	suffixSchema   = "/schema"
	schemaTemplate = "sheet://{sheet}/schema"
	mimeJSON       = "application/json"
)

// ErrBadResourceURI indicates a resource URI not of the form sheet://<name>/schema.
var ErrBadResourceURI = errors.New("registry: malformed sheet resource uri")

// SchemaURI returns the resource URI of a sheet's schema.
func SchemaURI(sheet string) string {
	return schemeSheet + url.PathEscape(sheet) + suffixSchema
}

// ParseSchemaURI extracts the sheet name from a schema resource URI.
func ParseSchemaURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, schemeSheet)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadResourceURI, uri)
	}
	name, ok := strings.CutSuffix(rest, suffixSchema)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %q", ErrBadResourceURI, uri)
	}
	sheet, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResourceURI, err)
	}
	return sheet, nil
}

// RegisterSheetResources publishes one schema resource per sheet plus a
// template for clients that address sheets by name.
func RegisterSheetResources(s *server.MCPServer, eng *query.Engine) {
	read := func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return readSchema(ctx, eng, req.Params.URI)
	}
	for _, name := range eng.ListSheets().Sheets {
		s.AddResource(mcp.NewResource(
			SchemaURI(name),
			name+" schema",
			mcp.WithResourceDescription("Column names and inferred types of sheet "+name),
			mcp.WithMIMEType(mimeJSON),
		), read)
	}
	s.AddResourceTemplate(mcp.NewResourceTemplate(
		schemaTemplate,
		"sheet schema",
		mcp.WithTemplateDescription("Column names and inferred types of the named sheet"),
		mcp.WithTemplateMIMEType(mimeJSON),
	), read)
}

// readSchema returns protocol errors for malformed URIs and unknown sheets.
func readSchema(ctx context.Context, eng *query.Engine, uri string) ([]mcp.ResourceContents, error) {
	sheet, err := ParseSchemaURI(uri)
	if err != nil {
		return nil, err
	}
	out, err := eng.GetSchema(ctx, sheet)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: mimeJSON, Text: string(body)},
	}, nil
}
