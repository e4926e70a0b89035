package permit

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/permitpack/bom"
	"github.com/hazyhaar/permitpack/kit"
)

// RegisterMCP registers the permit tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerLocateTool(srv)
	p.registerAssembleTool(srv)
	p.registerCatalogTool(srv)
}

// --- locate ---

// LocateRequest describes one component to resolve.
type LocateRequest struct {
	PartName     string `json:"part_name"`
	PartNumber   string `json:"part_number"`
	Manufacturer string `json:"manufacturer"`
	Quantity     int    `json:"quantity"`
}

// LocateEndpoint resolves one component described by a *LocateRequest.
func (p *Pipeline) LocateEndpoint() kit.Endpoint {
	return func(_ context.Context, req any) (any, error) {
		r := req.(*LocateRequest)
		if r.PartName == "" && r.PartNumber == "" {
			return nil, errors.New("part_name or part_number is required")
		}
		qty := r.Quantity
		if qty == 0 {
			qty = 1
		}
		return p.Locate(bom.Component{
			RowIndex:     1,
			PartName:     r.PartName,
			PartNumber:   r.PartNumber,
			Manufacturer: r.Manufacturer,
			Quantity:     qty,
		}), nil
	}
}

// DecodeLocate is the decode function matching LocateEndpoint.
var DecodeLocate = kit.DecodeJSON[LocateRequest]()

func (p *Pipeline) registerLocateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "permit_locate",
		Description: "Resolve one BOM component to a cached specification sheet (exact catalog, file pattern, or fuzzy fallback).",
		InputSchema: kit.InputSchema(map[string]any{
			"part_name":    map[string]any{"type": "string", "description": "Component name, e.g. Microinverter"},
			"part_number":  map[string]any{"type": "string", "description": "Manufacturer part number"},
			"manufacturer": map[string]any{"type": "string"},
			"quantity":     map[string]any{"type": "integer"},
		}, nil),
	}
	kit.RegisterMCPTool(srv, tool, p.withLogging("permit_locate", p.LocateEndpoint()), DecodeLocate)
}

// --- assemble ---

func (p *Pipeline) registerAssembleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "permit_assemble",
		Description: "Build a permit package PDF from a BOM CSV and a base permit PDF. Returns the run report.",
		InputSchema: kit.InputSchema(map[string]any{
			"project_id":  map[string]any{"type": "string"},
			"bom_path":    map[string]any{"type": "string", "description": "Path to the BOM CSV"},
			"base_path":   map[string]any{"type": "string", "description": "Path to the base permit PDF"},
			"output_path": map[string]any{"type": "string", "description": "Where to write the package (optional)"},
			"base_pages":  map[string]any{"type": "integer", "description": "Front pages kept from the base document (default 7)"},
		}, []string{"bom_path", "base_path"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return p.Run(ctx, *req.(*Request))
	}
	kit.RegisterMCPTool(srv, tool, p.withLogging("permit_assemble", endpoint), kit.DecodeJSON[Request]())
}

// --- catalog ---

func (p *Pipeline) registerCatalogTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "permit_catalog",
		Description: "List the catalog of known part numbers and names with their specification sheet files.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		return p.deps.Catalog.Entries(), nil
	}
	kit.RegisterMCPTool(srv, tool, p.withLogging("permit_catalog", endpoint), kit.DecodeJSON[struct{}]())
}

func (p *Pipeline) withLogging(name string, e kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.WithLogging(p.logger, name))(e)
}
